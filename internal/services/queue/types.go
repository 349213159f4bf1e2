package queue

import (
	"context"
	"time"
)

// Priority orders queued jobs; higher values are served first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Status is a job lifecycle state. Terminal states never transition again
// and their result/error fields are frozen.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// Payload is the executable unit of a job. The context is cancelled when the
// job's timeout elapses, its owner cancels it, or the pool shuts down.
// Cooperative cancellation is part of the contract: payloads that ignore ctx
// keep consuming resources after the worker has stopped waiting for them.
type Payload func(ctx context.Context) (any, error)

// Job is an immutable snapshot of one unit of work. Query methods return
// copies; mutating a Job has no effect on the queue.
type Job struct {
	ID       string        `json:"id"`
	Owner    string        `json:"owner"`
	Name     string        `json:"name"`
	Priority Priority      `json:"priority"`
	Status   Status        `json:"status"`
	Timeout  time.Duration `json:"timeout"`

	SubmittedAt time.Time `json:"submitted_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`

	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Duration reports wall-clock execution time, zero until the job finished.
func (j Job) Duration() time.Duration {
	if j.StartedAt.IsZero() || j.FinishedAt.IsZero() {
		return 0
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

// job is the mutable record behind a Job snapshot.
//
// All fields are guarded by the service mutex; the executing worker is the
// only writer once the job is running. index is the heap slot (-1 when the
// job is not queued).
type job struct {
	id       string
	owner    string
	name     string
	priority Priority
	status   Status
	timeout  time.Duration
	payload  Payload

	submittedAt time.Time
	startedAt   time.Time
	finishedAt  time.Time

	result any
	errMsg string

	seq    uint64
	index  int
	cancel context.CancelFunc
}

func (j *job) snapshot() Job {
	return Job{
		ID:          j.id,
		Owner:       j.owner,
		Name:        j.name,
		Priority:    j.priority,
		Status:      j.status,
		Timeout:     j.timeout,
		SubmittedAt: j.submittedAt,
		StartedAt:   j.startedAt,
		FinishedAt:  j.finishedAt,
		Result:      j.result,
		Error:       j.errMsg,
	}
}

// Quota is an owner's admission profile. Zero fields fall back to the
// queue-wide defaults when the profile is created lazily.
type Quota struct {
	MaxRunning     int
	MaxQueued      int
	DefaultTimeout time.Duration
	RatePerMinute  int
}

// Config controls the work queue.
type Config struct {
	Workers   int
	QueueSize int

	// PollInterval bounds how long an idle worker sleeps between queue checks,
	// which also bounds shutdown latency.
	PollInterval time.Duration

	DefaultQuota Quota
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.DefaultQuota.MaxRunning <= 0 {
		c.DefaultQuota.MaxRunning = 3
	}
	if c.DefaultQuota.MaxQueued <= 0 {
		c.DefaultQuota.MaxQueued = 10
	}
	if c.DefaultQuota.DefaultTimeout <= 0 {
		c.DefaultQuota.DefaultTimeout = 5 * time.Minute
	}
	if c.DefaultQuota.RatePerMinute <= 0 {
		c.DefaultQuota.RatePerMinute = 30
	}
	return c
}

// Lifecycle event types published on the event bus.
const (
	EventQueued   = "job.queued"
	EventStarted  = "job.started"
	EventFinished = "job.finished"
)

// JobEvent is the bus payload for job lifecycle events.
type JobEvent struct {
	Event string `json:"event"`
	Job   Job    `json:"job"`
}

// Stats is a read-only view of queue state.
type Stats struct {
	QueueDepth int            `json:"queue_depth"`
	ByStatus   map[Status]int `json:"by_status"`
	Workers    int            `json:"workers"`
	Running    bool           `json:"running"`
}
