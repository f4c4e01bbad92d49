package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	mergeConfigs(cfg, &override)
	return nil
}

// mergeConfigs merges the non-zero fields of override into base.
func mergeConfigs(base, override *Config) {
	if override == nil {
		return
	}

	mergeString(&base.Server.Bind, override.Server.Bind)
	if override.Server.ReadTimeout != 0 {
		base.Server.ReadTimeout = override.Server.ReadTimeout
	}
	if override.Server.WriteTimeout != 0 {
		base.Server.WriteTimeout = override.Server.WriteTimeout
	}
	if len(override.Server.AllowedOrigins) > 0 {
		base.Server.AllowedOrigins = append([]string(nil), override.Server.AllowedOrigins...)
	}

	mergeString(&base.Storage.Database, override.Storage.Database)
	mergeString(&base.Storage.UploadsDir, override.Storage.UploadsDir)

	mergeString(&base.Auth.JWTSecret, override.Auth.JWTSecret)
	mergeString(&base.Auth.Issuer, override.Auth.Issuer)
	if override.Auth.TokenTTL != 0 {
		base.Auth.TokenTTL = override.Auth.TokenTTL
	}

	mergeString(&base.Executor.URL, override.Executor.URL)
	if override.Executor.RateLimit != 0 {
		base.Executor.RateLimit = override.Executor.RateLimit
	}
	if override.Executor.Burst != 0 {
		base.Executor.Burst = override.Executor.Burst
	}
	if override.Executor.Timeout != 0 {
		base.Executor.Timeout = override.Executor.Timeout
	}

	mergeString(&base.Bus.Driver, override.Bus.Driver)
	mergeString(&base.Bus.URL, override.Bus.URL)
	mergeString(&base.Bus.SubjectPrefix, override.Bus.SubjectPrefix)

	mergeString(&base.Log.Level, override.Log.Level)
	mergeString(&base.Log.Format, override.Log.Format)

	mergeString(&base.Client.ServerURL, override.Client.ServerURL)
	mergeString(&base.Client.Token, override.Client.Token)
}

func mergeString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

// applyEnvOverrides applies QAFLOW_* variables. The process environment wins
// over values read from config.env files.
func applyEnvOverrides(cfg *Config, configEnv map[string]string) {
	lookup := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return configEnv[key]
	}

	mergeString(&cfg.Server.Bind, lookup("QAFLOW_BIND"))
	mergeString(&cfg.Storage.Database, lookup("QAFLOW_DB"))
	mergeString(&cfg.Storage.UploadsDir, lookup("QAFLOW_UPLOADS_DIR"))
	mergeString(&cfg.Auth.JWTSecret, lookup("QAFLOW_JWT_SECRET"))
	mergeString(&cfg.Executor.URL, lookup("QAFLOW_EXECUTOR_URL"))
	mergeString(&cfg.Bus.Driver, lookup("QAFLOW_BUS_DRIVER"))
	mergeString(&cfg.Bus.URL, lookup("QAFLOW_BUS_URL"))
	mergeString(&cfg.Log.Level, lookup("QAFLOW_LOG_LEVEL"))
	mergeString(&cfg.Log.Format, lookup("QAFLOW_LOG_FORMAT"))
	mergeString(&cfg.Client.ServerURL, lookup("QAFLOW_SERVER_URL"))
	mergeString(&cfg.Client.Token, lookup("QAFLOW_TOKEN"))

	if v := lookup("QAFLOW_EXECUTOR_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Executor.RateLimit = f
		}
	}
	if v := lookup("QAFLOW_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitCommaList(v)
	}
}

// loadConfigEnvVars reads ~/.qaflow/config.env and then ./.env; later files win.
func loadConfigEnvVars() map[string]string {
	var paths []string
	if home := userHome(); home != "" {
		paths = append(paths, filepath.Join(home, ".qaflow", "config.env"))
	}
	paths = append(paths, ".env")

	vars := make(map[string]string)
	for _, path := range paths {
		values, err := godotenv.Read(path)
		if err != nil {
			continue
		}
		for k, v := range values {
			vars[k] = v
		}
	}
	return vars
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
