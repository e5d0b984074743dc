// ABOUTME: Configuration loading and parsing for tasktrack
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/tasktrack/internal/auth"
)

// MinSessionSecretLength is the minimum auth.session_secret length in bytes.
const MinSessionSecretLength = 32

// Defaults applied by Load when a field is left empty.
const (
	DefaultHTTPAddr        = "127.0.0.1:8080"
	DefaultMetricsPath     = "/metrics"
	DefaultAdminRole       = "Admin"
	DefaultCookieName      = "tasktrack_session"
	DefaultSessionTTL      = 30 * time.Minute
	DefaultPersistentTTL   = 14 * 24 * time.Hour
	DefaultMaxLifetime     = 30 * 24 * time.Hour
	DefaultShutdownTimeout = 10 * time.Second
)

// Config represents the complete tasktrack configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// BridgeBaseURL overrides the address server-rendered pages use to call
	// the API. Empty means derive it from each inbound request.
	BridgeBaseURL string `yaml:"bridge_base_url" toml:"bridge_base_url"`

	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve TLS with a tailnet certificate
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // expose publicly via Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds session and credential configuration
type AuthConfig struct {
	SessionSecret string       `yaml:"session_secret" toml:"session_secret"`
	CookieName    string       `yaml:"cookie_name" toml:"cookie_name"`
	AdminRole     string       `yaml:"admin_role" toml:"admin_role"`
	Users         []UserConfig `yaml:"users" toml:"users"`

	SessionTTL    time.Duration `yaml:"-" toml:"-"`
	PersistentTTL time.Duration `yaml:"-" toml:"-"`
	MaxLifetime   time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	SessionTTLRaw    string `yaml:"session_ttl" toml:"session_ttl"`
	PersistentTTLRaw string `yaml:"persistent_ttl" toml:"persistent_ttl"`
	MaxLifetimeRaw   string `yaml:"max_lifetime" toml:"max_lifetime"`
}

// UserConfig is one entry of the credential directory. Exactly one of
// Password or PasswordHash (bcrypt) must be set.
type UserConfig struct {
	Username     string   `yaml:"username" toml:"username"`
	Password     string   `yaml:"password" toml:"password"`
	PasswordHash string   `yaml:"password_hash" toml:"password_hash"`
	Roles        []string `yaml:"roles" toml:"roles"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// applyEnvOverrides lets the environment win over file values.
func applyEnvOverrides(cfg *Config) {
	if p := os.Getenv("TASKTRACK_DB_PATH"); p != "" {
		cfg.Database.Path = p
	}
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = DefaultCookieName
	}
	if c.Auth.AdminRole == "" {
		c.Auth.AdminRole = DefaultAdminRole
	}
	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = DefaultSessionTTL
	}
	if c.Auth.PersistentTTL == 0 {
		c.Auth.PersistentTTL = DefaultPersistentTTL
	}
	if c.Auth.MaxLifetime == 0 {
		c.Auth.MaxLifetime = DefaultMaxLifetime
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return errors.New("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}

	if len(c.Auth.SessionSecret) < MinSessionSecretLength {
		return fmt.Errorf("auth.session_secret must be at least %d bytes", MinSessionSecretLength)
	}

	if c.Auth.SessionTTL < 0 || c.Auth.PersistentTTL < 0 || c.Auth.MaxLifetime < 0 {
		return errors.New("auth durations must be positive")
	}
	if c.Auth.MaxLifetime < c.Auth.SessionTTL {
		return errors.New("auth.max_lifetime must not be shorter than auth.session_ttl")
	}

	seen := make(map[string]bool, len(c.Auth.Users))
	for i, u := range c.Auth.Users {
		name := strings.ToLower(strings.TrimSpace(u.Username))
		if name == "" {
			return fmt.Errorf("auth.users[%d].username is required", i)
		}
		if seen[name] {
			return fmt.Errorf("auth.users[%d]: duplicate username %q", i, u.Username)
		}
		seen[name] = true
		if (u.Password == "") == (u.PasswordHash == "") {
			return fmt.Errorf("auth.users[%d]: exactly one of password or password_hash is required", i)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}

	return nil
}

// parseDuration parses raw into *dst when raw is set.
func parseDuration(name, raw string, dst *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing %s %q: %w", name, raw, err)
	}
	*dst = d
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"session_ttl", cfg.Auth.SessionTTLRaw, &cfg.Auth.SessionTTL},
		{"persistent_ttl", cfg.Auth.PersistentTTLRaw, &cfg.Auth.PersistentTTL},
		{"max_lifetime", cfg.Auth.MaxLifetimeRaw, &cfg.Auth.MaxLifetime},
	}
	for _, f := range fields {
		if err := parseDuration(f.name, f.raw, f.dst); err != nil {
			return err
		}
	}
	return nil
}

// Credentials converts the configured users into credential records. With no
// users configured the built-in demo accounts are returned.
func (a AuthConfig) Credentials() []auth.Credential {
	if len(a.Users) == 0 {
		return auth.DefaultCredentials()
	}
	creds := make([]auth.Credential, 0, len(a.Users))
	for _, u := range a.Users {
		creds = append(creds, auth.Credential{
			Username:     u.Username,
			Password:     u.Password,
			PasswordHash: u.PasswordHash,
			Roles:        append([]string(nil), u.Roles...),
		})
	}
	return creds
}

// SessionOptions returns the session cookie settings.
func (a AuthConfig) SessionOptions() auth.SessionOptions {
	return auth.SessionOptions{
		CookieName:    a.CookieName,
		SessionTTL:    a.SessionTTL,
		PersistentTTL: a.PersistentTTL,
		MaxLifetime:   a.MaxLifetime,
	}
}

// DefaultPath returns the config file location: $TASKTRACK_CONFIG, then
// ./config.yaml when present, then $XDG_CONFIG_HOME/tasktrack/config.yaml
// (falling back to ~/.config).
func DefaultPath() string {
	if p := os.Getenv("TASKTRACK_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "tasktrack", "config.yaml")
}
