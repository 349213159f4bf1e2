package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"conductor/internal/eventbus"
	"conductor/internal/services/queue"
	"conductor/internal/services/scheduler"
	logx "conductor/pkg/logx"
)

type captureSink struct {
	mu   sync.Mutex
	got  []Notification
	name string
}

func (c *captureSink) Name() string { return c.name }

func (c *captureSink) Notify(_ context.Context, n Notification) error {
	c.mu.Lock()
	c.got = append(c.got, n)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func TestTranslateJobFinished(t *testing.T) {
	t.Parallel()

	n, ok := translate(eventbus.Event{
		Type: queue.EventFinished,
		Time: time.Now(),
		Data: queue.JobEvent{Event: queue.EventFinished, Job: queue.Job{
			Owner: "alice", Name: "backup", Status: queue.StatusFailed, Error: "disk full",
		}},
	})
	if !ok {
		t.Fatal("terminal job event not translated")
	}
	if n.Kind != "job" || n.Owner != "alice" {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if n.Body != "disk full" {
		t.Fatalf("Body = %q, want disk full", n.Body)
	}

	// Non-terminal snapshots produce nothing.
	if _, ok := translate(eventbus.Event{
		Type: queue.EventFinished,
		Data: queue.JobEvent{Job: queue.Job{Status: queue.StatusRunning}},
	}); ok {
		t.Fatal("non-terminal job event translated")
	}
}

func TestTranslateScheduleError(t *testing.T) {
	t.Parallel()

	n, ok := translate(eventbus.Event{
		Type: scheduler.EventError,
		Data: scheduler.RunEvent{ID: "x", Name: "nightly", Owner: "bob", Error: "timeout"},
	})
	if !ok {
		t.Fatal("schedule error not translated")
	}
	if n.Kind != "schedule" || n.Body != "timeout" {
		t.Fatalf("unexpected notification: %+v", n)
	}

	// Successful runs are not notification-worthy.
	if _, ok := translate(eventbus.Event{
		Type: scheduler.EventRun,
		Data: scheduler.RunEvent{Name: "nightly"},
	}); ok {
		t.Fatal("successful schedule run translated")
	}
}

func TestFanoutDelivery(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	s := New(Config{Enabled: true, Workers: 1, RatePerSec: 1000}, logx.Nop(), bus)
	sink := &captureSink{name: "capture"}
	s.AddSink(sink)
	s.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	bus.Publish(eventbus.Event{
		Type: queue.EventFinished,
		Data: queue.JobEvent{Job: queue.Job{Owner: "alice", Name: "job", Status: queue.StatusCompleted}},
	})

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("notification never delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	t.Parallel()

	// Not started: nothing drains the queue.
	s := New(Config{Enabled: true, QueueSize: 2}, logx.Nop(), nil)
	for i := 0; i < 3; i++ {
		s.Enqueue(Notification{Kind: "job", Title: "t"})
	}
	if got := s.Dropped(); got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}
}
