package clock

import (
	"sync"
	"time"
)

// Fake is a manually driven Clock. Time only moves through Advance, or
// through After when auto-advance is enabled, in which case every wait
// completes instantly and moves the clock forward by the requested amount.
type Fake struct {
	mu          sync.Mutex
	now         time.Time
	autoAdvance bool
	waiters     []*waiter
	tickers     []*fakeTicker
	waits       []time.Duration
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewFake returns a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// SetAutoAdvance makes After advance the clock and fire immediately.
func (f *Fake) SetAutoAdvance(enabled bool) {
	f.mu.Lock()
	f.autoAdvance = enabled
	f.mu.Unlock()
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After records the requested wait and returns a channel that fires once
// the clock reaches now+d.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	f.waits = append(f.waits, d)
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.now
		f.mu.Unlock()
		return ch
	}
	if f.autoAdvance {
		f.mu.Unlock()
		f.Advance(d)
		ch <- f.Now()
		return ch
	}
	f.waiters = append(f.waiters, &waiter{deadline: f.now.Add(d), ch: ch})
	f.mu.Unlock()
	return ch
}

// Waits returns every duration passed to After, in call order.
func (f *Fake) Waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.waits))
	copy(out, f.waits)
	return out
}

// NewTicker returns a ticker that fires whenever Advance crosses its period.
func (f *Fake) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{
		clock:  f,
		ch:     make(chan time.Time, 1),
		period: d,
		next:   f.now.Add(d),
	}
	f.tickers = append(f.tickers, t)
	return t
}

// Advance moves the clock forward by d, firing due waiters and tickers.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)

	pending := f.waiters[:0]
	for _, w := range f.waiters {
		if !w.deadline.After(f.now) {
			w.ch <- f.now
			continue
		}
		pending = append(pending, w)
	}
	f.waiters = pending

	for _, t := range f.tickers {
		if t.stopped {
			continue
		}
		for !t.next.After(f.now) {
			select {
			case t.ch <- f.now:
			default:
			}
			t.next = t.next.Add(t.period)
		}
	}
}

type fakeTicker struct {
	clock   *Fake
	ch      chan time.Time
	period  time.Duration
	next    time.Time
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	t.stopped = true
	t.clock.mu.Unlock()
}
