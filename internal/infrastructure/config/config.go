package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Terminal  TerminalConfig  `yaml:"terminal" toml:"terminal"`
	Account   AccountConfig   `yaml:"account" toml:"account"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" yaml:"port" toml:"port"`
	Host            string        `envconfig:"HOST" yaml:"host" toml:"host"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" yaml:"allowed_origins" toml:"allowed_origins"`
	// MaxConnections caps concurrently accepted TCP connections; 0 is unlimited.
	MaxConnections int `envconfig:"MAX_CONNECTIONS" yaml:"max_connections" toml:"max_connections"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
	Sampling    bool   `envconfig:"LOG_SAMPLING" yaml:"sampling" toml:"sampling"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"rps" toml:"rps"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
}

// AuthConfig holds handshake verification settings. With an empty
// JWTSecret the gateway only checks that a token is present.
type AuthConfig struct {
	JWTSecret     string `envconfig:"AUTH_JWT_SECRET" yaml:"jwt_secret" toml:"jwt_secret"`
	JWTIssuer     string `envconfig:"AUTH_JWT_ISSUER" yaml:"jwt_issuer" toml:"jwt_issuer"`
	RequireSigned bool   `envconfig:"AUTH_REQUIRE_SIGNED" yaml:"require_signed" toml:"require_signed"`
}

// TerminalConfig holds PTY and session lifecycle settings.
type TerminalConfig struct {
	Shell          string        `envconfig:"TERMINAL_SHELL" yaml:"shell" toml:"shell"`
	ShellArgs      []string      `envconfig:"TERMINAL_SHELL_ARGS" yaml:"shell_args" toml:"shell_args"`
	Cols           int           `envconfig:"TERMINAL_COLS" yaml:"cols" toml:"cols"`
	Rows           int           `envconfig:"TERMINAL_ROWS" yaml:"rows" toml:"rows"`
	WorkspaceRoot  string        `envconfig:"WORKSPACE_ROOT" yaml:"workspace_root" toml:"workspace_root"`
	GracePeriod    time.Duration `envconfig:"TERMINAL_GRACE_PERIOD" yaml:"grace_period" toml:"grace_period"`
	ReadyTimeout   time.Duration `envconfig:"TERMINAL_READY_TIMEOUT" yaml:"ready_timeout" toml:"ready_timeout"`
	ScrollbackSize int           `envconfig:"TERMINAL_SCROLLBACK" yaml:"scrollback" toml:"scrollback"`
	PrimeShell     bool          `envconfig:"TERMINAL_PRIME_SHELL" yaml:"prime_shell" toml:"prime_shell"`
}

// AccountConfig holds OS account provisioning settings.
type AccountConfig struct {
	// Mode is "host" (real useradd/userdel) or "memory" (no OS changes).
	Mode           string   `envconfig:"ACCOUNT_MODE" yaml:"mode" toml:"mode"`
	HomeRoot       string   `envconfig:"HOME_ROOT" yaml:"home_root" toml:"home_root"`
	ExtraGroups    []string `envconfig:"ACCOUNT_EXTRA_GROUPS" yaml:"extra_groups" toml:"extra_groups"`
	MinUID         int      `envconfig:"ACCOUNT_MIN_UID" yaml:"min_uid" toml:"min_uid"`
	RemoveOnDelete bool     `envconfig:"ACCOUNT_REMOVE_ON_DELETE" yaml:"remove_on_delete" toml:"remove_on_delete"`
	// AllowRootFallback lets a session whose account could not be
	// provisioned start anyway when the service runs as root. The shell
	// then runs as root.
	AllowRootFallback bool `envconfig:"ACCOUNT_ALLOW_ROOT_FALLBACK" yaml:"allow_root_fallback" toml:"allow_root_fallback"`
}

// Address returns host:port for the HTTP listener.
func (s ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}

// Load builds configuration in layers: defaults, then the YAML or TOML file
// named by CONFIG_FILE (if any), then environment variables.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv("CONFIG_FILE"))
}

// LoadFrom is Load with an explicit config file. An empty path skips the
// file layer.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	unmarshal := yaml.Unmarshal
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		unmarshal = toml.Unmarshal
	}
	if err := unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the terminal subsystem cannot run with.
func (c *Config) Validate() error {
	if c.Terminal.Shell == "" {
		return fmt.Errorf("invalid config: terminal shell is empty")
	}
	if c.Terminal.Cols <= 0 || c.Terminal.Rows <= 0 {
		return fmt.Errorf("invalid config: terminal size %dx%d", c.Terminal.Cols, c.Terminal.Rows)
	}
	if c.Terminal.WorkspaceRoot == "" || c.Account.HomeRoot == "" {
		return fmt.Errorf("invalid config: workspace and home roots are required")
	}
	switch c.Account.Mode {
	case "host", "memory":
	default:
		return fmt.Errorf("invalid config: unknown account mode %q", c.Account.Mode)
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("invalid config: max connections %d", c.Server.MaxConnections)
	}
	if c.Auth.RequireSigned && c.Auth.JWTSecret == "" {
		return fmt.Errorf("invalid config: AUTH_REQUIRE_SIGNED needs AUTH_JWT_SECRET")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "3004",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
			MaxConnections:  4096,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
			Sampling:    true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Auth: AuthConfig{},
		Terminal: TerminalConfig{
			Shell:          "/bin/bash",
			ShellArgs:      []string{"--login"},
			Cols:           80,
			Rows:           24,
			WorkspaceRoot:  "/workspaces",
			GracePeriod:    5 * time.Minute,
			ReadyTimeout:   2 * time.Second,
			ScrollbackSize: 64 * 1024,
			PrimeShell:     true,
		},
		Account: AccountConfig{
			Mode:           "host",
			HomeRoot:       "/home",
			MinUID:         1000,
			RemoveOnDelete: true,
		},
	}
}
