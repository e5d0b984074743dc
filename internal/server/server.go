// ABOUTME: Server orchestrator that wires the store, policy engine, API, UI and live hub
// ABOUTME: Owns the HTTP listener (TCP or tsnet) and the graceful shutdown sequence

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/tasktrack/internal/api"
	"github.com/2389/tasktrack/internal/assets"
	"github.com/2389/tasktrack/internal/auth"
	"github.com/2389/tasktrack/internal/bridge"
	"github.com/2389/tasktrack/internal/config"
	"github.com/2389/tasktrack/internal/live"
	"github.com/2389/tasktrack/internal/metrics"
	"github.com/2389/tasktrack/internal/store"
	"github.com/2389/tasktrack/internal/webui"
)

// Store is the persistence the server needs: the task operations plus a
// liveness probe.
type Store interface {
	store.TaskStore
	Ping(ctx context.Context) error
}

// Server runs the tasktrack HTTP service.
type Server struct {
	config      *config.Config
	store       Store
	engine      *auth.Engine
	hub         *live.Hub
	metrics     *metrics.Metrics
	handler     http.Handler
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// New opens the SQLite store named by the config and builds the server.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	srv, err := NewWithStore(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return srv, nil
}

// NewWithStore builds the server around an existing store. The server owns
// st from here on and closes it on shutdown.
func NewWithStore(cfg *config.Config, st Store, logger *slog.Logger) (*Server, error) {
	dir, err := auth.NewMemoryDirectory(cfg.Auth.Credentials()...)
	if err != nil {
		return nil, fmt.Errorf("building credential directory: %w", err)
	}
	sessions, err := auth.NewSessionManager(dir, []byte(cfg.Auth.SessionSecret), cfg.Auth.SessionOptions())
	if err != nil {
		return nil, fmt.Errorf("creating session manager: %w", err)
	}

	m := metrics.New(metrics.DefaultNamespace)
	exemptions := []auth.Exemption{
		{Method: http.MethodGet, Path: "/health", Prefix: true},
		{Method: http.MethodGet, Path: assets.Prefix, Prefix: true},
	}
	if cfg.Metrics.Enabled {
		exemptions = append(exemptions, auth.Exemption{Method: http.MethodGet, Path: cfg.Metrics.Path})
	}
	engine := auth.NewEngine(sessions,
		auth.WithAdminRole(cfg.Auth.AdminRole),
		auth.WithRecorder(m),
		auth.WithExemptions(exemptions...),
	)

	hub := live.NewHub(logger.With("component", "live"))
	m.WatchSubscribers(metrics.DefaultNamespace, hub.Len)

	srv := &Server{
		config:  cfg,
		store:   st,
		engine:  engine,
		hub:     hub,
		metrics: m,
		logger:  logger.With("component", "server"),
	}

	bridgeOpts, err := srv.bridgeOptions()
	if err != nil {
		return nil, err
	}
	ui, err := webui.New(engine, webui.WithBridgeOptions(bridgeOpts...))
	if err != nil {
		return nil, fmt.Errorf("creating web UI: %w", err)
	}
	apiHandler := api.New(st, engine,
		api.WithPublisher(m.CountEvents(hub)),
		api.WithLoginFailure(ui.LoginFailure),
	)

	mux := http.NewServeMux()

	// Health endpoints - exempt from the session policy
	mux.HandleFunc("GET /health", srv.handleHealth)
	mux.HandleFunc("GET /health/ready", srv.handleReady)

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, m.Handler())
		logger.Info("metrics endpoint enabled", "path", cfg.Metrics.Path)
	}

	mux.Handle("GET "+assets.Prefix, http.StripPrefix(assets.Prefix, assets.FileServer()))
	mux.Handle("GET /live/tasks", hub)

	apiHandler.Register(mux)
	ui.RegisterRoutes(mux)

	// Recovery sits outermost so a panic in any layer still yields a 500.
	srv.handler = recoverPanics(srv.logger, m.Middleware(engine.Middleware(mux)))
	srv.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv, nil
}

// bridgeOptions decides how server-rendered pages reach the API. An explicit
// base URL wins. Under tsnet the host in the request is a tailnet name the
// process can only reach through the tsnet dialer.
func (s *Server) bridgeOptions() ([]bridge.Option, error) {
	var opts []bridge.Option
	if raw := s.config.Server.BridgeBaseURL; raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid server.bridge_base_url %q", raw)
		}
		opts = append(opts, bridge.WithBaseURL(u))
		return opts, nil
	}
	if s.config.Tailscale.Enabled {
		opts = append(opts, bridge.WithTransport(&http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				if s.tsnetServer == nil {
					return nil, errors.New("tailscale node not started")
				}
				return s.tsnetServer.Dial(ctx, network, addr)
			},
		}))
	}
	return opts, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Metrics returns the server's metrics registry wrapper.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (s *Server) setupTCPListener() (net.Listener, error) {
	s.logger.Info("starting tasktrack", "http_addr", s.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", s.config.Server.HTTPAddr)
		}
		return s.setupTailscaleListener(ctx)
	}
	return s.setupTCPListener()
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout,
// since the caller's context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "tasktrack", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and returns the HTTP listener.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	return s.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (s *Server) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		s.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := s.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return s.createTailscaleTLSListener()
	default:
		ln, err := s.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (s *Server) createTailscaleTLSListener() (net.Listener, error) {
	s.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := s.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := s.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests and releases resources. Live streams
// are hijacked connections that http.Server.Shutdown does not wait for, so
// the hub is closed first to end them.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down tasktrack")

	s.hub.Close()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", s.store.Close())

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
