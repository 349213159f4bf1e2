package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "conductor/pkg/logx"
)

// ScheduleOnce registers a job that runs once at runAt. A runAt in the past
// fires on the next tick.
func (s *Service) ScheduleOnce(name string, runAt time.Time, opt Options, cb Callback) (string, error) {
	if err := validate(name, cb); err != nil {
		return "", err
	}
	if runAt.IsZero() {
		return "", errors.New("run time required")
	}

	e := &entry{
		id:      uuid.NewString(),
		name:    strings.TrimSpace(name),
		owner:   opt.Owner,
		kind:    TriggerOnce,
		raw:     runAt.Format(time.RFC3339),
		runAt:   runAt,
		cb:      cb,
		status:  StatusPending,
		nextRun: runAt,
		hasNext: true,
	}
	s.register(e)
	return e.id, nil
}

// ScheduleInterval registers a fixed-period job. With opt.StartImmediately
// the first run fires on the next tick; opt.MaxRuns bounds total runs
// (0 = unbounded).
func (s *Service) ScheduleInterval(name string, period time.Duration, opt Options, cb Callback) (string, error) {
	if err := validate(name, cb); err != nil {
		return "", err
	}
	if period <= 0 {
		return "", errors.New("period must be > 0")
	}

	first := time.Now().Add(period)
	if opt.StartImmediately {
		first = time.Now()
	}
	e := &entry{
		id:      uuid.NewString(),
		name:    strings.TrimSpace(name),
		owner:   opt.Owner,
		kind:    TriggerInterval,
		raw:     fmt.Sprintf("every %s", period),
		period:  period,
		maxRuns: opt.MaxRuns,
		cb:      cb,
		status:  StatusPending,
		nextRun: first,
		hasNext: true,
	}
	s.register(e)
	return e.id, nil
}

// ScheduleCron registers a job from a cron expression. Supported forms:
// "MM HH" (daily), "every <dur>", full five-field cron, and @descriptors.
// Anything else falls back to "run once more in one hour", which is logged
// loudly because it usually means a typo in the expression.
func (s *Service) ScheduleCron(name, expr string, opt Options, cb Callback) (string, error) {
	if err := validate(name, cb); err != nil {
		return "", err
	}

	cspec, fellBack := parseCronSpec(expr)
	if fellBack {
		s.log.Warn("unrecognized cron expression; falling back to a single run in one hour",
			logx.String("name", name), logx.String("expr", expr))
	}

	s.mu.Lock()
	loc := s.loc
	s.mu.Unlock()

	e := &entry{
		id:      uuid.NewString(),
		name:    strings.TrimSpace(name),
		owner:   opt.Owner,
		kind:    TriggerCron,
		raw:     strings.TrimSpace(expr),
		cspec:   cspec,
		maxRuns: opt.MaxRuns,
		cb:      cb,
		status:  StatusPending,
		nextRun: cspec.next(time.Now(), loc),
		hasNext: true,
	}
	s.register(e)
	return e.id, nil
}

// CancelJob cancels a scheduled job. It is idempotent: the first call returns
// true, later calls (or unknown ids) return false and have no side effects.
func (s *Service) CancelJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.status == StatusCancelled {
		return false
	}
	e.status = StatusCancelled
	e.hasNext = false
	s.log.Debug("schedule cancelled", logx.String("id", id), logx.String("name", e.name))
	return true
}

// Get returns a snapshot of one scheduled job.
func (s *Service) Get(id string) (ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ScheduledJob{}, ErrNotFound
	}
	return e.snapshot(), nil
}

// List returns snapshots of all registered jobs, ordered by name then id.
func (s *Service) List() []ScheduledJob {
	s.mu.Lock()
	out := make([]ScheduledJob, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.snapshot())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Service) register(e *entry) {
	s.mu.Lock()
	s.entries[e.id] = e
	s.mu.Unlock()

	s.log.Debug("schedule registered",
		logx.String("id", e.id), logx.String("name", e.name),
		logx.String("kind", e.kind.String()), logx.String("spec", e.raw),
		logx.Time("next", e.nextRun))
}

func validate(name string, cb Callback) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if cb == nil {
		return errors.New("callback required")
	}
	return nil
}
