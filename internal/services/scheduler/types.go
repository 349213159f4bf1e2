package scheduler

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("scheduled job not found")

type TriggerKind int

const (
	TriggerOnce TriggerKind = iota
	TriggerInterval
	TriggerCron
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerOnce:
		return "once"
	case TriggerInterval:
		return "interval"
	case TriggerCron:
		return "cron"
	default:
		return "unknown"
	}
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Callback is the work a scheduled job performs. Keep it cheap: it runs
// inline on the scheduler loop.
type Callback func(ctx context.Context) error

// Options carries optional registration settings shared by all trigger kinds.
// StartImmediately and MaxRuns only apply to interval jobs.
type Options struct {
	Owner            string
	StartImmediately bool
	MaxRuns          int
}

// ScheduledJob is a read-only snapshot of a registry entry.
//
// NextRun is nil exactly when the job will never run again (completed,
// cancelled, or max runs reached).
type ScheduledJob struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Owner string      `json:"owner,omitempty"`
	Kind  TriggerKind `json:"-"`
	Spec  string      `json:"spec"`

	Status    Status     `json:"status"`
	LastRun   time.Time  `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	RunCount  int        `json:"run_count"`
	MaxRuns   int        `json:"max_runs,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// entry is the mutable registry record, guarded by the service mutex.
// hasNext==false means the job will never fire again.
type entry struct {
	id    string
	name  string
	owner string
	kind  TriggerKind
	raw   string

	runAt  time.Time     // once
	period time.Duration // interval
	cspec  cronSpec      // cron

	maxRuns int
	cb      Callback

	status   Status
	lastRun  time.Time
	nextRun  time.Time
	hasNext  bool
	runCount int
	lastErr  string
}

func (e *entry) snapshot() ScheduledJob {
	s := ScheduledJob{
		ID:        e.id,
		Name:      e.name,
		Owner:     e.owner,
		Kind:      e.kind,
		Spec:      e.raw,
		Status:    e.status,
		LastRun:   e.lastRun,
		RunCount:  e.runCount,
		MaxRuns:   e.maxRuns,
		LastError: e.lastErr,
	}
	if e.hasNext {
		next := e.nextRun
		s.NextRun = &next
	}
	return s
}

// Config controls the scheduler service.
type Config struct {
	Enabled  bool
	Tick     time.Duration // default 1s
	Timezone string        // IANA TZ, e.g. "Asia/Jakarta"
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	return c
}

// Bus event types for scheduled job runs.
const (
	EventRun   = "schedule.run"
	EventError = "schedule.error"
)

// RunEvent is the bus payload published after each callback invocation.
type RunEvent struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Owner    string `json:"owner,omitempty"`
	RunCount int    `json:"run_count"`
	Error    string `json:"error,omitempty"`
}

type Snapshot struct {
	Enabled  bool
	Timezone string
	Tick     time.Duration
	Jobs     []ScheduledJob
}
