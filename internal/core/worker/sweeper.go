package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/taskgraph/internal/core/clock"
	"github.com/vietddude/taskgraph/internal/infra/cache"
	"github.com/vietddude/taskgraph/internal/infra/resilience"
	"github.com/vietddude/taskgraph/internal/metrics"
)

// DefaultSweepInterval is how often expired cache entries are dropped.
const DefaultSweepInterval = 10 * time.Minute

// Sweeper bounds cache memory by removing expired entries on an interval
// and refreshes the breaker state gauges.
type Sweeper struct {
	cache    *cache.Cache
	breakers *resilience.BreakerSet
	interval time.Duration
	clock    clock.Clock
	log      *slog.Logger
}

// NewSweeper creates a new Sweeper worker.
func NewSweeper(
	c *cache.Cache,
	breakers *resilience.BreakerSet,
	interval time.Duration,
	clk clock.Clock,
	log *slog.Logger,
) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		cache:    c,
		breakers: breakers,
		interval: interval,
		clock:    clk,
		log:      log,
	}
}

// Run sweeps until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			s.Sweep()
		}
	}
}

// Sweep runs one housekeeping pass and returns the number of cache entries
// removed.
func (s *Sweeper) Sweep() int {
	removed := s.cache.Cleanup()
	if removed > 0 {
		s.log.Debug("Swept expired cache entries", "removed", removed, "remaining", s.cache.Len())
	}

	if s.breakers != nil {
		for _, b := range s.breakers.Snapshot() {
			metrics.BreakerState.WithLabelValues(b.Name).Set(breakerGauge(b.State))
		}
	}
	return removed
}

func breakerGauge(state string) float64 {
	switch state {
	case resilience.StateHalfOpen.String():
		return 1
	case resilience.StateOpen.String():
		return 2
	default:
		return 0
	}
}
