package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// Load loads, substitutes and validates configuration from a file.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	data, err := os.ReadFile(absPath) //nolint:gosec // path comes from operator-supplied flags
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return parse(data)
}

// LoadFromReader loads configuration from an io.Reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return parse(data)
}

// parse substitutes env vars, unmarshals, applies defaults and env
// overrides, and validates.
func parse(data []byte) (*Config, error) {
	content := substituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} with values
// from the environment. $$ escapes a literal dollar sign.
func substituteEnvVars(content string) string {
	content = strings.ReplaceAll(content, "$$", "\x00ESCAPED_DOLLAR\x00")

	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		defaultValue := ""
		if len(submatches) >= 3 {
			defaultValue = submatches[2]
		}

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return defaultValue
	})

	return strings.ReplaceAll(result, "\x00ESCAPED_DOLLAR\x00", "$")
}

// applyEnvOverrides applies GPANEL_* environment overrides on top of
// the file values. Only operational knobs are overridable; pools and
// routes always come from the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GPANEL_QUIC_ADDR"); v != "" {
		cfg.Listeners.QUICAddr = v
	}
	if v := os.Getenv("GPANEL_HTTP_ADDR"); v != "" {
		cfg.Listeners.HTTPAddr = v
	}
	if v := os.Getenv("GPANEL_ADMIN_ADDR"); v != "" {
		cfg.Listeners.AdminAddr = v
	}
	if v := os.Getenv("GPANEL_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Listeners.MaxConnections = n
		}
	}
	if v := os.Getenv("GPANEL_LOG_LEVEL"); v != "" {
		cfg.Observability.Log.Level = v
	}
	if v := os.Getenv("GPANEL_AUTH_JWKS_URL"); v != "" {
		cfg.Auth.JWKSURL = v
	}
	if v := os.Getenv("GPANEL_RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimit.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("GPANEL_REDIS_ADDR"); v != "" {
		cfg.RateLimit.Store.Type = "redis"
		cfg.RateLimit.Store.Redis.Addr = v
	}
}
