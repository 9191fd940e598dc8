package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/taskgraph/internal/core/clock"
	"github.com/vietddude/taskgraph/internal/infra/resilience"
)

// Pinger checks that the backing store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerReporter lists circuit breaker states.
type BreakerReporter interface {
	Snapshot() []resilience.BreakerStatus
}

// CacheSizer reports the number of cached entries.
type CacheSizer interface {
	Len() int
}

// minCheckInterval bounds how often the store is pinged.
const minCheckInterval = 10 * time.Second

// Monitor aggregates health status from various system components.
type Monitor struct {
	store    Pinger
	breakers BreakerReporter
	cache    CacheSizer
	clock    clock.Clock

	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(store Pinger, breakers BreakerReporter, cache CacheSizer, clk clock.Clock) *Monitor {
	if clk == nil {
		clk = clock.Real()
	}
	return &Monitor{
		store:    store,
		breakers: breakers,
		cache:    cache,
		clock:    clk,
	}
}

// CheckHealth pings the store and collects breaker and cache state.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	// Rate limit checks to avoid hammering the store from probes
	if m.lastReport != nil && now.Sub(m.lastCheck) < minCheckInterval {
		return *m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Store:        StoreHealth{Status: StatusHealthy},
		CheckedAt:    now.UTC(),
	}

	start := m.clock.Now()
	if err := m.store.Ping(ctx); err != nil {
		report.Store.Status = StatusCritical
		report.Store.Error = err.Error()
	}
	report.Store.Latency = m.clock.Now().Sub(start).String()

	if m.breakers != nil {
		report.Breakers = m.breakers.Snapshot()
	}
	if m.cache != nil {
		report.CacheEntries = m.cache.Len()
	}

	// Evaluate Status
	if report.Store.Status == StatusCritical {
		report.SystemStatus = StatusCritical
	} else {
		for _, b := range report.Breakers {
			if b.State != resilience.StateClosed.String() {
				report.SystemStatus = StatusDegraded
				break
			}
		}
	}

	m.lastCheck = now
	m.lastReport = &report
	return report
}
