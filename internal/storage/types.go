package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the archive store.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled and the orchestrator
// keeps history in memory only.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// JobRecord is the archived form of a finished job.
// Keep it compact and schema-stable.
type JobRecord struct {
	ID          string
	Owner       string
	Name        string
	Priority    string
	Status      string
	Error       string
	SubmittedAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	TookMS      int64
}

// AgentRunRecord is the archived form of a finished agent run.
type AgentRunRecord struct {
	ID            string
	Owner         string
	State         string
	Steps         int
	FinalResponse string
	Error         string
	At            time.Time
}
