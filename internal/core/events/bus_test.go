package events

import (
	"testing"

	"github.com/vietddude/taskgraph/internal/core/domain"
)

func TestBus_FanOut(t *testing.T) {
	bus := NewBus()
	a, cancelA := bus.Subscribe(4)
	b, cancelB := bus.Subscribe(4)
	defer cancelA()
	defer cancelB()

	ev := domain.ChangeEvent{Entity: domain.EntityTasks, ID: "t1", Operation: domain.ChangeUpdate}
	bus.Publish(ev)

	for name, ch := range map[string]<-chan domain.ChangeEvent{"a": a, "b": b} {
		select {
		case got := <-ch:
			if got.ID != "t1" || got.Operation != domain.ChangeUpdate {
				t.Errorf("%s: unexpected event %+v", name, got)
			}
		default:
			t.Errorf("%s: expected an event", name)
		}
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(domain.ChangeEvent{ID: "1"})
	bus.Publish(domain.ChangeEvent{ID: "2"})

	if got := <-ch; got.ID != "1" {
		t.Errorf("expected first event kept, got %q", got.ID)
	}
	select {
	case got := <-ch:
		t.Errorf("expected second event dropped, got %q", got.ID)
	default:
	}
}

func TestBus_CancelAndClose(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("expected channel closed after cancel")
	}

	other, _ := bus.Subscribe(1)
	bus.Close()
	if _, ok := <-other; ok {
		t.Error("expected channel closed after bus close")
	}

	late, _ := bus.Subscribe(1)
	if _, ok := <-late; ok {
		t.Error("expected subscription after close to be closed")
	}
	bus.Publish(domain.ChangeEvent{ID: "x"})
}
