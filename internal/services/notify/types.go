// Package notify fans out human-facing notifications (job results, schedule
// failures) to registered sinks through a small rate-limited worker pool.
// Delivery is best effort: a full queue drops, a failing sink is logged and
// skipped.
package notify

import (
	"context"
	"time"
)

// Notification is one message bound for every registered sink.
type Notification struct {
	Kind  string    `json:"kind"` // "job", "schedule", "agent"
	Owner string    `json:"owner,omitempty"`
	Title string    `json:"title"`
	Body  string    `json:"body,omitempty"`
	Time  time.Time `json:"time"`
}

// Sink delivers notifications somewhere (a chat channel, a webhook, a log).
// Implementations must be safe for concurrent use.
type Sink interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// Config sizes the fanout pool.
type Config struct {
	Enabled    bool
	Workers    int     // default 2
	QueueSize  int     // default 64
	RatePerSec float64 // per-sink delivery rate, default 1
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	return c
}
