package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/odvcencio/qaflow/pkg/config"
)

func isolate(t *testing.T) (home, project string) {
	t.Helper()
	home = t.TempDir()
	project = t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"QAFLOW_BIND", "QAFLOW_DB", "QAFLOW_UPLOADS_DIR", "QAFLOW_JWT_SECRET",
		"QAFLOW_EXECUTOR_URL", "QAFLOW_BUS_DRIVER", "QAFLOW_BUS_URL",
		"QAFLOW_LOG_LEVEL", "QAFLOW_LOG_FORMAT", "QAFLOW_SERVER_URL", "QAFLOW_TOKEN",
		"QAFLOW_EXECUTOR_RATE_LIMIT", "QAFLOW_ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}
	t.Chdir(project)
	return home, project
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	if cfg.Server.Bind != config.DefaultBind {
		t.Fatalf("bind = %q", cfg.Server.Bind)
	}
	if cfg.Bus.Driver != "memory" || cfg.Bus.SubjectPrefix != "qaflow" {
		t.Fatalf("unexpected bus defaults: %+v", cfg.Bus)
	}
	if !strings.HasSuffix(cfg.Storage.Database, filepath.Join(".qaflow", "qaflow.db")) {
		t.Fatalf("database = %q", cfg.Storage.Database)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadHierarchy(t *testing.T) {
	home, project := isolate(t)

	writeFile(t, filepath.Join(home, ".qaflow", "config.yaml"), `
server:
  bind: 127.0.0.1:5000
executor:
  url: http://user-executor
  timeout: 90s
log:
  level: debug
`)
	writeFile(t, filepath.Join(project, ".qaflow", "config.yaml"), `
executor:
  url: http://project-executor
storage:
  database: ~/data/qa.db
`)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Bind != "127.0.0.1:5000" {
		t.Errorf("bind = %q, want user value", cfg.Server.Bind)
	}
	if cfg.Executor.URL != "http://project-executor" {
		t.Errorf("executor url = %q, want project value", cfg.Executor.URL)
	}
	if cfg.Executor.Timeout != 90*time.Second {
		t.Errorf("timeout = %v", cfg.Executor.Timeout)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if want := filepath.Join(home, "data", "qa.db"); cfg.Storage.Database != want {
		t.Errorf("database = %q, want %q", cfg.Storage.Database, want)
	}
}

func TestEnvOverridesBeatFilesAndDotEnv(t *testing.T) {
	home, project := isolate(t)

	writeFile(t, filepath.Join(home, ".qaflow", "config.yaml"), "bus:\n  driver: memory\n")
	writeFile(t, filepath.Join(home, ".qaflow", "config.env"), "QAFLOW_JWT_SECRET=from-config-env-0123456789abcdef0123\nQAFLOW_TOKEN=home-token\n")
	writeFile(t, filepath.Join(project, ".env"), "export QAFLOW_TOKEN=\"project-token\"\nQAFLOW_BUS_DRIVER=nats\nQAFLOW_BUS_URL=nats://127.0.0.1:4222\n")
	t.Setenv("QAFLOW_BUS_URL", "nats://override:4222")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-config-env-0123456789abcdef0123" {
		t.Errorf("secret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Client.Token != "project-token" {
		t.Errorf("token = %q, want .env value", cfg.Client.Token)
	}
	if cfg.Bus.Driver != "nats" {
		t.Errorf("driver = %q", cfg.Bus.Driver)
	}
	if cfg.Bus.URL != "nats://override:4222" {
		t.Errorf("bus url = %q, want process env value", cfg.Bus.URL)
	}
	if err := cfg.ValidateServe(); err != nil {
		t.Errorf("ValidateServe: %v", err)
	}
}

func TestLoadFromPathRejectsBadYAML(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "broken.yaml")
	writeFile(t, path, "server: [unterminated")

	if _, err := config.LoadFromPath(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		errSub string
	}{
		{"unknown bus", func(c *config.Config) { c.Bus.Driver = "kafka" }, "invalid bus driver"},
		{"redis without url", func(c *config.Config) { c.Bus.Driver = "redis" }, "bus.url"},
		{"bad level", func(c *config.Config) { c.Log.Level = "trace" }, "invalid log level"},
		{"bad format", func(c *config.Config) { c.Log.Format = "xml" }, "invalid log format"},
		{"negative rate", func(c *config.Config) { c.Executor.RateLimit = -1 }, "rate_limit"},
		{"zero burst", func(c *config.Config) { c.Executor.Burst = 0 }, "burst"},
		{"empty bind", func(c *config.Config) { c.Server.Bind = " " }, "server.bind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.errSub)
			}
		})
	}
}

func TestValidateServeRequiresLongSecret(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = "short"
	if err := cfg.ValidateServe(); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
	cfg.Auth.JWTSecret = strings.Repeat("k", config.MinSecretLength)
	if err := cfg.ValidateServe(); err != nil {
		t.Fatalf("ValidateServe: %v", err)
	}
}

func TestValidationWarnings(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Executor.URL = "http://engine"
	if w := cfg.ValidationWarnings(); len(w) != 0 {
		t.Fatalf("unexpected warnings: %v", w)
	}

	cfg.Server.Bind = "0.0.0.0:4490"
	cfg.Executor.URL = ""
	if w := cfg.ValidationWarnings(); len(w) != 2 {
		t.Fatalf("warnings = %v, want 2", w)
	}
}
