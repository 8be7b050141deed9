package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration, shared by
// the companion daemon and the license service binary. Values come from
// environment variables (HOPPER_ prefix) with an optional YAML file
// filling anything the environment leaves unset.
type Config struct {
	Agent   AgentConfig   `yaml:"agent" envconfig:"AGENT"`
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	License LicenseConfig `yaml:"license" envconfig:"LICENSE"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
	Paths   PathsConfig   `yaml:"paths" envconfig:"PATHS"`
	Tracing TracingConfig `yaml:"tracing" envconfig:"TRACING"`
}

// AgentConfig contains the companion daemon's local API configuration.
// The local API is only ever consumed by the popup UI on the same
// machine, so it binds to loopback by default.
type AgentConfig struct {
	ListenAddr      string        `yaml:"listen_addr" envconfig:"LISTEN_ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// ServerConfig contains the license service HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	// AdminTokenHash is the bcrypt hash of the token required by the
	// create/revoke admin endpoints. Empty disables those endpoints.
	AdminTokenHash string          `yaml:"admin_token_hash" envconfig:"ADMIN_TOKEN_HASH"`
	SnapshotFile   string          `yaml:"snapshot_file" envconfig:"SNAPSHOT_FILE"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains per-client rate limiting configuration for
// the license service.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LicenseConfig contains the license client's view of the remote
// service and the revalidation cadence.
type LicenseConfig struct {
	ServiceURL     string        `yaml:"service_url" envconfig:"SERVICE_URL"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	// CheckInterval is how long a successful validation is trusted
	// before the scheduler revalidates (the server echoes the same
	// window as nextCheckInDays).
	CheckInterval time.Duration `yaml:"check_interval" envconfig:"CHECK_INTERVAL"`
	// WakeInterval is the scheduler's wake cadence. Each wake is a
	// no-op unless CheckInterval has elapsed since the last success.
	WakeInterval time.Duration `yaml:"wake_interval" envconfig:"WAKE_INTERVAL"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// PathsConfig contains file system paths. StateDir holds the device
// profile and the local license cache; DataDir holds downloaded
// listings.
type PathsConfig struct {
	StateDir string `yaml:"state_dir" envconfig:"STATE_DIR"`
	DataDir  string `yaml:"data_dir" envconfig:"DATA_DIR"`
}

// TracingConfig controls the optional stdout trace exporter.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"ENABLED"`
}

// Load loads configuration with env > file > defaults precedence: the
// built-in defaults are the base, an optional YAML file overlays them,
// and environment variables that are actually set win over both. The
// structs carry no envconfig defaults on purpose; defaults living only
// in Default() is what keeps the file overlay observable.
func Load() (*Config, error) {
	cfg := *Default()

	configFile := configFilePath()
	if _, err := os.Stat(configFile); err == nil {
		if err := loadFromFile(configFile, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process("HOPPER", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile overlays the YAML file onto cfg. Keys absent from the
// file leave the existing values untouched.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// resolvePaths makes StateDir and DataDir absolute relative to the
// executable directory, matching how the packaged app is laid out.
func (c *Config) resolvePaths() error {
	base, err := executableDir()
	if err != nil {
		return err
	}

	if !filepath.IsAbs(c.Paths.StateDir) {
		c.Paths.StateDir = filepath.Join(base, c.Paths.StateDir)
	}
	if !filepath.IsAbs(c.Paths.DataDir) {
		c.Paths.DataDir = filepath.Join(base, c.Paths.DataDir)
	}
	if !filepath.IsAbs(c.Server.SnapshotFile) {
		c.Server.SnapshotFile = filepath.Join(c.Paths.StateDir, c.Server.SnapshotFile)
	}
	if c.Logging.Output == "file" && !filepath.IsAbs(c.Logging.FilePath) {
		c.Logging.FilePath = filepath.Join(base, c.Logging.FilePath)
	}

	return nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.License.ServiceURL == "" {
		return fmt.Errorf("license service URL is required")
	}
	if c.License.RequestTimeout <= 0 {
		return fmt.Errorf("license request timeout must be positive")
	}
	if c.License.CheckInterval <= 0 {
		return fmt.Errorf("license check interval must be positive")
	}
	if c.License.WakeInterval <= 0 {
		return fmt.Errorf("scheduler wake interval must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	return nil
}

func configFilePath() string {
	if path := os.Getenv("HOPPER_CONFIG"); path != "" {
		return path
	}
	base, err := executableDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(base, "config.yaml")
}

func executableDir() (string, error) {
	// Tests and `go run` execute from a temp build dir; fall back to
	// the working directory there.
	exe, err := os.Executable()
	if err != nil {
		return os.Getwd()
	}
	dir := filepath.Dir(exe)
	if strings.HasPrefix(dir, os.TempDir()) {
		return os.Getwd()
	}
	return dir, nil
}

// Default returns the built-in configuration, the base layer every
// Load() starts from.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			ListenAddr:      "127.0.0.1:8490",
			ShutdownTimeout: 10 * time.Second,
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			SnapshotFile:    "licenses.json",
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     5,
				Burst:   10,
			},
		},
		License: LicenseConfig{
			ServiceURL:     "https://closethopper.com/api",
			RequestTimeout: 10 * time.Second,
			CheckInterval:  14 * 24 * time.Hour,
			WakeInterval:   24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/hopper.log",
		},
		Paths: PathsConfig{
			StateDir: "state",
			DataDir:  "data",
		},
	}
}
