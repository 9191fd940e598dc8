package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLocal_SerializesSameKey(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "task:1")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("expected at most one holder, saw %d", maxSeen)
	}
	if l.Len() != 0 {
		t.Errorf("expected no slots left, got %d", l.Len())
	}
}

func TestLocal_DifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	unlockA, err := l.Lock(ctx, "task:a")
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	unlockB, err := l.Lock(ctx, "task:b")
	if err != nil {
		t.Fatalf("expected independent key to lock, got %v", err)
	}
	unlockB()
}

func TestLocal_ContextCancelWhileWaiting(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	unlock()
	unlock()
	if l.Len() != 0 {
		t.Errorf("expected slot released, got %d", l.Len())
	}
}

func TestHeld(t *testing.T) {
	ctx := context.Background()
	if Held(ctx, "tasks:dependencies") {
		t.Fatal("expected key not held on a bare context")
	}

	ctx = WithHeld(ctx, "tasks:dependencies")
	if !Held(ctx, "tasks:dependencies") {
		t.Error("expected key held")
	}
	if Held(ctx, "tasks:other") {
		t.Error("marking one key must not mark another")
	}
}
