package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/taskgraph/internal/infra/resilience"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// LoadOrDefault reads path when it exists and falls back to the defaults
// (in-memory store, no Redis) otherwise.
func LoadOrDefault(path string) (*AppConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Parse(nil)
	}
	return Load(path)
}

// Parse decodes YAML content and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if _, err := cfg.Resilience.BuildPolicies(); err != nil {
		return nil, fmt.Errorf("invalid resilience config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "pgx"
	}

	if cfg.Cache.SweepInterval == 0 {
		cfg.Cache.SweepInterval = 10 * time.Minute
	}
	if cfg.Cache.TTL.Short == 0 {
		cfg.Cache.TTL.Short = time.Minute
	}
	if cfg.Cache.TTL.Medium == 0 {
		cfg.Cache.TTL.Medium = 5 * time.Minute
	}
	if cfg.Cache.TTL.Long == 0 {
		cfg.Cache.TTL.Long = 30 * time.Minute
	}

	if cfg.Resilience.Breaker.MaxFailures == 0 {
		cfg.Resilience.Breaker.MaxFailures = resilience.DefaultBreakerConfig.MaxFailures
	}
	if cfg.Resilience.Breaker.ResetTimeout == 0 {
		cfg.Resilience.Breaker.ResetTimeout = resilience.DefaultBreakerConfig.ResetTimeout
	}
}
