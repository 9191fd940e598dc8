package cache

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/taskgraph/internal/core/clock"
)

func newTestCache() (*Cache, *clock.Fake) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(clk), clk
}

func TestCache_TTLExpiry(t *testing.T) {
	c, clk := newTestCache()
	ctx := context.Background()

	c.Set("tasks:all", "v", 100*time.Millisecond)

	if v, ok := c.Get("tasks:all"); !ok || v != "v" {
		t.Fatalf("expected immediate hit, got %v %v", v, ok)
	}

	clk.Advance(150 * time.Millisecond)

	if _, ok := c.Get("tasks:all"); ok {
		t.Fatal("expected entry to be expired")
	}
	if c.Len() != 0 {
		t.Errorf("expected expired entry to be evicted on read, len=%d", c.Len())
	}

	calls := 0
	v, err := WithCache(ctx, c, "tasks:all", time.Minute, func(ctx context.Context) (string, error) {
		calls++
		return "fresh", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "fresh" || calls != 1 {
		t.Errorf("expected fetcher to run once and return fresh, got %q after %d calls", v, calls)
	}
}

func TestWithCache_HitSkipsFetcher(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()

	calls := 0
	fetch := func(ctx context.Context) ([]int, error) {
		calls++
		return []int{1, 2, 3}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := WithCache(ctx, c, "k", time.Minute, fetch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("unexpected value %v", got)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 fetch, got %d", calls)
	}
}

func TestWithCache_ErrorNotCached(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := WithCache(ctx, c, "k", time.Minute, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok := c.Get("k"); ok {
		t.Error("failed fetch must not populate the cache")
	}
}

func TestWithCache_ConcurrentMissesShareOneFetch(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := WithCache(ctx, c, "k", time.Minute, fetch); err != nil || v != "v" {
				t.Errorf("unexpected result %q %v", v, err)
			}
		}()
	}

	// Give the goroutines time to join the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("expected a single in-flight fetch, got %d", n)
	}
}

func TestWithCache_InvalidationDuringFetchIsNotOverwritten(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()

	_, _ = WithCache(ctx, c, "tasks:1", time.Minute, func(ctx context.Context) (string, error) {
		// A write lands while the read is in flight.
		c.InvalidatePrefix("tasks:")
		return "stale", nil
	})

	if _, ok := c.Get("tasks:1"); ok {
		t.Error("a fetch that raced with an invalidation must not be cached")
	}
}

func TestCache_InvalidatePatternAndPrefix(t *testing.T) {
	c, _ := newTestCache()
	for _, k := range []string{"tasks:all", "tasks:1", "tasks:project:p1", "projects:all", "summary:priority"} {
		c.Set(k, k, time.Minute)
	}

	if n := c.InvalidatePattern(regexp.MustCompile(`^tasks:`)); n != 3 {
		t.Errorf("expected 3 task keys removed, got %d", n)
	}
	if n := c.InvalidatePrefix("summary:"); n != 1 {
		t.Errorf("expected 1 summary key removed, got %d", n)
	}

	keys := c.Keys()
	if len(keys) != 1 || keys[0] != "projects:all" {
		t.Errorf("expected only projects:all left, got %v", keys)
	}

	c.Invalidate("projects:all")
	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %v", c.Keys())
	}
}

func TestCache_Cleanup(t *testing.T) {
	c, clk := newTestCache()
	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)

	clk.Advance(2 * time.Second)

	if removed := c.Cleanup(); removed != 1 {
		t.Errorf("expected 1 expired entry swept, got %d", removed)
	}
	if keys := c.Keys(); len(keys) != 1 || keys[0] != "long" {
		t.Errorf("expected only long to remain, got %v", keys)
	}
}

func TestCache_SetOverwrites(t *testing.T) {
	c, clk := newTestCache()
	c.Set("k", 1, time.Second)
	clk.Advance(900 * time.Millisecond)
	c.Set("k", 2, time.Second)
	clk.Advance(900 * time.Millisecond)

	if v, ok := c.Get("k"); !ok || v != 2 {
		t.Errorf("expected refreshed value 2, got %v %v", v, ok)
	}
}

func TestWithCache_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	c, _ := newTestCache()

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	fetchErr := make(chan error, 2)
	fetch := func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		fetchErr <- ctx.Err()
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "v", nil
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := WithCache(ctxA, c, "tasks:all", time.Minute, fetch)
		errA <- err
	}()
	<-started

	type result struct {
		v   string
		err error
	}
	resB := make(chan result, 1)
	go func() {
		v, err := WithCache(context.Background(), c, "tasks:all", time.Minute, fetch)
		resB <- result{v, err}
	}()

	// Give B time to join the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	cancelA()

	select {
	case err := <-errA:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected the cancelled caller to see context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting on the shared fetch")
	}

	close(release)
	got := <-resB
	if got.err != nil || got.v != "v" {
		t.Fatalf("expected the remaining caller to get the value, got %q %v", got.v, got.err)
	}
	if err := <-fetchErr; err != nil {
		t.Errorf("shared fetch saw the first caller's cancellation: %v", err)
	}
	if v, ok := c.Get("tasks:all"); !ok || v != "v" {
		t.Errorf("expected the shared result cached, got %v %v", v, ok)
	}
}
