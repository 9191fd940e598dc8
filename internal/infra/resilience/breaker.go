package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/taskgraph/internal/core/clock"
	"github.com/vietddude/taskgraph/internal/metrics"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// DefaultBreakerConfig provides sensible defaults.
var DefaultBreakerConfig = BreakerConfig{
	MaxFailures:  5,
	ResetTimeout: 60 * time.Second,
}

// Breaker stops calling a repeatedly failing operation until a cooldown
// elapses. Only failures that say something about the health of the store
// are counted: validation, constraint, not_found and auth rejections mean
// the store answered and leave the failure count alone.
type Breaker struct {
	name  string
	cfg   BreakerConfig
	clock clock.Clock
	log   *slog.Logger

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	lastFailureTime time.Time
	probing         bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, cfg BreakerConfig, clk clock.Clock, log *slog.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultBreakerConfig.MaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultBreakerConfig.ResetTimeout
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = slog.Default()
	}
	metrics.BreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return &Breaker{name: name, cfg: cfg, clock: clk, log: log}
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Execute runs op unless the circuit is open. While open and inside the
// reset timeout it fails fast with ErrCircuitOpen without invoking op.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := op(ctx)
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.clock.Now().Sub(b.lastFailureTime) < b.cfg.ResetTimeout {
			return newCircuitOpenError(b.name)
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		// One probe at a time.
		if b.probing {
			return newCircuitOpenError(b.name)
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if errors.Is(err, context.Canceled) {
		// The caller gave up; the attempt says nothing about the store.
		return
	}
	if err == nil || !countsAsFailure(err) {
		b.failureCount = 0
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		return
	}

	b.failureCount++
	b.lastFailureTime = b.clock.Now()
	switch {
	case b.state == StateHalfOpen:
		b.transition(StateOpen)
	case b.state == StateClosed && b.failureCount >= b.cfg.MaxFailures:
		b.transition(StateOpen)
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	metrics.BreakerState.WithLabelValues(b.name).Set(float64(to))
	if to == StateOpen {
		b.log.Warn("Circuit breaker opened",
			"breaker", b.name, "from", from.String(), "failures", b.failureCount)
		return
	}
	b.log.Info("Circuit breaker state changed",
		"breaker", b.name, "from", from.String(), "to", to.String())
}

func countsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	ce := Classify(err, "")
	switch ce.Kind {
	case KindValidation, KindConstraint, KindNotFound, KindAuthentication, KindAuthorization:
		return false
	}
	return true
}

// BreakerSet holds one breaker per operation class name.
type BreakerSet struct {
	cfg   BreakerConfig
	clock clock.Clock
	log   *slog.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakerSet creates an empty set sharing cfg across its breakers.
func NewBreakerSet(cfg BreakerConfig, clk clock.Clock, log *slog.Logger) *BreakerSet {
	return &BreakerSet{
		cfg:      cfg,
		clock:    clk,
		log:      log,
		breakers: make(map[string]*Breaker),
	}
}

// For returns the breaker for name, creating it on first use.
func (s *BreakerSet) For(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, s.cfg, s.clock, s.log)
	s.breakers[name] = b
	return b
}

// BreakerStatus is a point-in-time view of a breaker.
type BreakerStatus struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// Snapshot returns the status of every breaker sorted by name.
func (s *BreakerSet) Snapshot() []BreakerStatus {
	s.mu.Lock()
	list := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		list = append(list, b)
	}
	s.mu.Unlock()

	out := make([]BreakerStatus, 0, len(list))
	for _, b := range list {
		b.mu.Lock()
		out = append(out, BreakerStatus{Name: b.name, State: b.state.String(), Failures: b.failureCount})
		b.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
