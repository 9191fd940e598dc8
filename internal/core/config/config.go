package config

import (
	"fmt"
	"time"

	"github.com/vietddude/taskgraph/internal/core/domain"
	redisclient "github.com/vietddude/taskgraph/internal/infra/redis"
	"github.com/vietddude/taskgraph/internal/infra/resilience"
	"github.com/vietddude/taskgraph/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Logging    LoggingConfig      `yaml:"logging"`
	Database   postgres.Config    `yaml:"database"`
	Redis      redisclient.Config `yaml:"redis"`
	Cache      CacheConfig        `yaml:"cache"`
	Resilience ResilienceConfig   `yaml:"resilience"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// CacheConfig holds cache lifetimes and housekeeping settings.
type CacheConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	TTL           TTLConfig     `yaml:"ttl"`
}

// TTLConfig is the cache lifetime per volatility class.
type TTLConfig struct {
	Short  time.Duration `yaml:"short"`
	Medium time.Duration `yaml:"medium"`
	Long   time.Duration `yaml:"long"`
}

// Map returns the lifetimes keyed by volatility class.
func (t TTLConfig) Map() map[domain.Volatility]time.Duration {
	return map[domain.Volatility]time.Duration{
		domain.VolatilityShort:  t.Short,
		domain.VolatilityMedium: t.Medium,
		domain.VolatilityLong:   t.Long,
	}
}

// ResilienceConfig holds circuit breaker and retry settings.
type ResilienceConfig struct {
	Breaker  resilience.BreakerConfig `yaml:"breaker"`
	Policies map[string]PolicyConfig  `yaml:"policies"` // read, write, auth, rate_limited, critical
}

// PolicyConfig overrides fields of a built-in retry policy. Unset fields
// keep the built-in value.
type PolicyConfig struct {
	MaxRetries *int          `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     *bool         `yaml:"jitter"`
}

// BuildPolicies overlays the configured overrides on the built-in policies.
// Retry predicates always come from the built-in policy.
func (r ResilienceConfig) BuildPolicies() (resilience.Policies, error) {
	policies := resilience.DefaultPolicies()
	for name, override := range r.Policies {
		class := resilience.OpClass(name)
		p, ok := policies[class]
		if !ok {
			return nil, fmt.Errorf("unknown retry policy %q", name)
		}
		if override.MaxRetries != nil {
			if *override.MaxRetries < 0 {
				return nil, fmt.Errorf("policy %s: max_retries must be >= 0", name)
			}
			p.MaxRetries = *override.MaxRetries
		}
		if override.BaseDelay > 0 {
			p.BaseDelay = override.BaseDelay
		}
		if override.MaxDelay > 0 {
			p.MaxDelay = override.MaxDelay
		}
		if override.Multiplier > 0 {
			p.BackoffMultiplier = override.Multiplier
		}
		if override.Jitter != nil {
			p.Jitter = *override.Jitter
		}
		if p.MaxDelay < p.BaseDelay {
			return nil, fmt.Errorf("policy %s: max_delay must be >= base_delay", name)
		}
		policies[class] = p
	}
	return policies, nil
}
