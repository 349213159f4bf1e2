package storage

import (
	"context"
	"errors"
	"strings"

	logx "conductor/pkg/logx"
)

// Store is the minimal persistence API: append-only archive of terminal jobs
// and agent runs. Live state stays in memory; the store exists so history
// survives restarts.
type Store interface {
	AppendJob(ctx context.Context, r JobRecord) error
	AppendAgentRun(ctx context.Context, r AgentRunRecord) error
	RecentJobs(ctx context.Context, owner string, limit int) ([]JobRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
