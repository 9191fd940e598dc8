package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vietddude/taskgraph/internal/core/clock"
	"github.com/vietddude/taskgraph/internal/metrics"
)

// Executor runs operations under a retry policy.
type Executor struct {
	clock  clock.Clock
	log    *slog.Logger
	random func() float64
}

// NewExecutor creates a retry executor. A nil logger uses slog.Default.
func NewExecutor(clk clock.Clock, log *slog.Logger) *Executor {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Executor{clock: clk, log: log, random: rand.Float64}
}

// Execute invokes op up to policy.MaxRetries+1 times. Failures are
// classified once; the classified error is returned when retries run out
// or the policy declines to retry.
func (e *Executor) Execute(ctx context.Context, policy Policy, where string, op func(context.Context) error) error {
	p := policy.normalized()
	b := newBackoff(p)

	var last *ClassifiedError
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.jitter(b.NextBackOff(), p.Jitter)
			select {
			case <-ctx.Done():
				return e.fail(last)
			case <-e.clock.After(delay):
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		last = Classify(err, where)
		if attempt == p.MaxRetries || !p.ShouldRetry(last) || ctx.Err() != nil {
			return e.fail(last)
		}

		metrics.RetryAttempts.WithLabelValues(p.Name, string(last.Kind)).Inc()
		e.log.Warn("Retrying store operation",
			"op", where,
			"policy", p.Name,
			"attempt", attempt+1,
			"max_retries", p.MaxRetries,
			"kind", last.Kind,
			"error", last.Message,
		)
	}
	return e.fail(last)
}

// Do is the value-returning form of Execute.
func Do[T any](ctx context.Context, e *Executor, policy Policy, where string, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := e.Execute(ctx, policy, where, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (e *Executor) fail(ce *ClassifiedError) error {
	if ce == nil {
		return nil
	}
	if errors.Is(ce, context.Canceled) {
		return ce
	}
	metrics.ClassifiedErrors.WithLabelValues(string(ce.Kind), string(ce.Severity)).Inc()
	return ce
}

// jitter scales d by a uniform factor in [0.5, 1.0] when enabled.
func (e *Executor) jitter(d time.Duration, enabled bool) time.Duration {
	if !enabled {
		return d
	}
	factor := 0.5 + 0.5*e.random()
	return time.Duration(float64(d) * factor)
}

// newBackoff yields min(base*multiplier^(n-1), max) for the n-th retry.
func newBackoff(p Policy) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          p.BackoffMultiplier,
		MaxInterval:         p.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}
