package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "conductor/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "conductor.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q) error: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) = %v, want nil store", driver, st)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "cassandra"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestAppendAndQueryJobs(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	recs := []JobRecord{
		{ID: "j1", Owner: "alice", Name: "backup", Priority: "normal", Status: "completed", SubmittedAt: base, FinishedAt: base.Add(time.Second), TookMS: 120},
		{ID: "j2", Owner: "alice", Name: "report", Priority: "high", Status: "failed", Error: "disk full", SubmittedAt: base, FinishedAt: base.Add(2 * time.Second)},
		{ID: "j3", Owner: "bob", Name: "sync", Priority: "low", Status: "completed", SubmittedAt: base, FinishedAt: base.Add(3 * time.Second)},
	}
	for _, r := range recs {
		if err := st.AppendJob(ctx, r); err != nil {
			t.Fatalf("AppendJob(%s): %v", r.ID, err)
		}
	}
	// Duplicate id is a no-op, not an error.
	if err := st.AppendJob(ctx, recs[0]); err != nil {
		t.Fatalf("duplicate AppendJob: %v", err)
	}

	all, err := st.RecentJobs(ctx, "", 0)
	if err != nil {
		t.Fatalf("RecentJobs: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	// Most recently finished first.
	if all[0].ID != "j3" {
		t.Fatalf("first = %s, want j3", all[0].ID)
	}

	alice, err := st.RecentJobs(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("RecentJobs(alice): %v", err)
	}
	if len(alice) != 2 {
		t.Fatalf("alice jobs = %d, want 2", len(alice))
	}
	if alice[1].Error != "" && alice[0].Error == "" {
		t.Fatalf("error field lost: %+v", alice)
	}

	limited, err := st.RecentJobs(ctx, "", 1)
	if err != nil {
		t.Fatalf("RecentJobs(limit): %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limited = %d, want 1", len(limited))
	}
}

func TestAppendAgentRun(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	err := st.AppendAgentRun(ctx, AgentRunRecord{
		ID: "r1", Owner: "alice", State: "completed", Steps: 3, FinalResponse: "done",
	})
	if err != nil {
		t.Fatalf("AppendAgentRun: %v", err)
	}
	if err := st.AppendAgentRun(ctx, AgentRunRecord{ID: "r1", Owner: "alice", State: "completed"}); err != nil {
		t.Fatalf("duplicate AppendAgentRun: %v", err)
	}
}
