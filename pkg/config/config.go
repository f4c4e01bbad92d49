package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultBind          = "127.0.0.1:4490"
	DefaultSubjectPrefix = "qaflow"
	DefaultIssuer        = "qaflow"

	// MinSecretLength is the shortest HS256 secret serve accepts.
	MinSecretLength = 32
)

// Config is the complete qaflow configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Auth     AuthConfig     `yaml:"auth"`
	Executor ExecutorConfig `yaml:"executor"`
	Bus      BusConfig      `yaml:"bus"`
	Log      LogConfig      `yaml:"log"`
	Client   ClientConfig   `yaml:"client"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Bind           string        `yaml:"bind"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// StorageConfig locates the database and the uploads root.
type StorageConfig struct {
	Database   string `yaml:"database"`
	UploadsDir string `yaml:"uploads_dir"`
}

// AuthConfig configures JWT verification.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// ExecutorConfig points at the external browser-automation engine.
type ExecutorConfig struct {
	URL       string        `yaml:"url"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
	Timeout   time.Duration `yaml:"timeout"`
}

// BusConfig selects the event bus backend.
type BusConfig struct {
	Driver        string `yaml:"driver"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ClientConfig is used by the run and clone commands to reach a server.
type ClientConfig struct {
	ServerURL string `yaml:"server_url"`
	Token     string `yaml:"token"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	home := userHome()
	return &Config{
		Server: ServerConfig{
			Bind:         DefaultBind,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // run streams are long-lived
		},
		Storage: StorageConfig{
			Database:   filepath.Join(home, ".qaflow", "qaflow.db"),
			UploadsDir: filepath.Join(home, ".qaflow", "uploads"),
		},
		Auth: AuthConfig{
			Issuer:   DefaultIssuer,
			TokenTTL: 24 * time.Hour,
		},
		Executor: ExecutorConfig{
			RateLimit: 2,
			Burst:     4,
			Timeout:   10 * time.Minute,
		},
		Bus: BusConfig{
			Driver:        "memory",
			SubjectPrefix: DefaultSubjectPrefix,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Client: ClientConfig{
			ServerURL: "http://" + DefaultBind,
		},
	}
}

// Load loads configuration from default locations with proper precedence
func Load() (*Config, error) {
	cfg := DefaultConfig()
	configEnv := loadConfigEnvVars()

	if home := userHome(); home != "" {
		userConfigPath := filepath.Join(home, ".qaflow", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	projectConfigPath := filepath.Join(".", ".qaflow", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg, configEnv)
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	configEnv := loadConfigEnvVars()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg, configEnv)
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Bind) == "" {
		return fmt.Errorf("server.bind is required")
	}
	if strings.TrimSpace(c.Storage.Database) == "" {
		return fmt.Errorf("storage.database is required")
	}
	if strings.TrimSpace(c.Storage.UploadsDir) == "" {
		return fmt.Errorf("storage.uploads_dir is required")
	}

	switch c.Bus.Driver {
	case "memory":
	case "nats", "redis":
		if strings.TrimSpace(c.Bus.URL) == "" {
			return fmt.Errorf("bus.url is required for driver %s", c.Bus.Driver)
		}
	default:
		return fmt.Errorf("invalid bus driver: %s (valid: memory, nats, redis)", c.Bus.Driver)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (valid: text, json)", c.Log.Format)
	}

	if c.Executor.RateLimit < 0 {
		return fmt.Errorf("executor.rate_limit must be >= 0")
	}
	if c.Executor.RateLimit > 0 && c.Executor.Burst < 1 {
		return fmt.Errorf("executor.burst must be >= 1 when rate_limit is set")
	}
	if c.Auth.TokenTTL < 0 {
		return fmt.Errorf("auth.token_ttl must be >= 0")
	}
	return nil
}

// ValidateServe adds the checks that only matter when running the API server.
func (c *Config) ValidateServe() error {
	if len(c.Auth.JWTSecret) < MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinSecretLength)
	}
	return nil
}

// ValidationWarnings returns non-fatal issues worth logging at startup.
func (c *Config) ValidationWarnings() []string {
	var warnings []string
	if !isLoopbackBindAddress(c.Server.Bind) && len(c.Server.AllowedOrigins) == 0 {
		warnings = append(warnings, fmt.Sprintf("server.bind %s is not loopback and no allowed_origins are set", c.Server.Bind))
	}
	if strings.TrimSpace(c.Executor.URL) == "" {
		warnings = append(warnings, "executor.url is empty; /api/run-test will answer 503")
	}
	return warnings
}

func (c *Config) expandPaths() {
	c.Storage.Database = expandHomeDir(c.Storage.Database)
	c.Storage.UploadsDir = expandHomeDir(c.Storage.UploadsDir)
}

func isLoopbackBindAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	switch strings.ToLower(host) {
	case "localhost":
		return true
	case "0.0.0.0", "::":
		return false
	default:
		ip := net.ParseIP(host)
		if ip == nil {
			return false
		}
		return ip.IsLoopback()
	}
}

func userHome() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		home = os.Getenv("HOME")
	}
	return home
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "~" {
		if home := userHome(); home != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home := userHome(); home != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
