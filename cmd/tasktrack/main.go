// ABOUTME: Entry point for the tasktrack server and its helper commands
// ABOUTME: Dispatches serve, init, health and hash-password subcommands

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/2389/tasktrack/internal/auth"
	"github.com/2389/tasktrack/internal/config"
	"github.com/2389/tasktrack/internal/server"
)

// Version is set at build time.
var version = "dev"

const banner = `
  _            _    _                  _
 | |_ __ _ ___| | _| |_ _ __ __ _  ___| | __
 | __/ _' / __| |/ / __| '__/ _' |/ __| |/ /
 | || (_| \__ \   <| |_| | | (_| | (__|   <
  \__\__,_|___/_|\_\\__|_|  \__,_|\___|_|\_\
`

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: tasktrack <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve           Start the server")
	fmt.Fprintln(w, "  init            Create a new config file interactively")
	fmt.Fprintln(w, "  health          Check server liveness and readiness")
	fmt.Fprintln(w, "  hash-password   Print a bcrypt hash for auth.users[].password_hash")
	fmt.Fprintln(w, "  version         Print the version")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The config file is read from $TASKTRACK_CONFIG, ./config.yaml or")
	fmt.Fprintln(w, "$XDG_CONFIG_HOME/tasktrack/config.yaml.")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stdout)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin, os.Stdout, config.DefaultPath())
	case "health":
		err = runHealth(ctx)
	case "hash-password":
		err = runHashPassword(os.Stdin, os.Stdout)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	if len(cfg.Auth.Users) == 0 {
		yellow.Println("    ! no users configured, demo accounts admin and alice are active")
	}

	fmt.Println()

	logger.Info("starting tasktrack",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"tailscale", cfg.Tailscale.Enabled,
	)

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is not set; health checks need a local address")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	return checkHealth(ctx, client, "http://"+cfg.Server.HTTPAddr, os.Stdout)
}

// checkHealth probes liveness then readiness at base.
func checkHealth(ctx context.Context, client *http.Client, base string, out io.Writer) error {
	for _, probe := range []struct{ path, label string }{
		{"/health", "healthy"},
		{"/health/ready", "ready"},
	} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+probe.path, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: status %d: %s", probe.path, resp.StatusCode, strings.TrimSpace(string(body)))
		}
		fmt.Fprintln(out, probe.label)
	}
	return nil
}

// runHashPassword reads a password from in and prints its bcrypt hash. A
// terminal gets a hidden prompt; piped input is read as one line.
func runHashPassword(in *os.File, out io.Writer) error {
	var password string
	if term.IsTerminal(int(in.Fd())) {
		fmt.Fprint(out, "Password: ")
		b, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		password = string(b)
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, hash)
	return nil
}
