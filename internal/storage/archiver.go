package storage

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"conductor/internal/eventbus"
	"conductor/internal/services/agent"
	"conductor/internal/services/queue"
	logx "conductor/pkg/logx"
)

// Archiver tails the event bus and appends terminal jobs and finished agent
// runs to the store. Write failures are logged and dropped; the archive is a
// convenience, not a ledger.
type Archiver struct {
	store Store
	log   logx.Logger
	bus   eventbus.Bus

	mu     sync.Mutex
	unsub  func()
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewArchiver(store Store, log logx.Logger, bus eventbus.Bus) *Archiver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Archiver{store: store, log: log, bus: bus}
}

func (a *Archiver) Start(ctx context.Context) {
	if a.store == nil || a.bus == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	a.mu.Lock()
	if a.unsub != nil {
		// already running
		a.mu.Unlock()
		return
	}
	events, unsub := a.bus.Subscribe(128)
	runCtx, cancel := context.WithCancel(ctx)
	a.unsub = unsub
	a.cancel = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.log.Error("panic in archiver", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		a.run(runCtx, events)
	}()
	a.log.Info("archiver started")
}

func (a *Archiver) Stop(ctx context.Context) {
	a.mu.Lock()
	unsub := a.unsub
	cancel := a.cancel
	a.unsub = nil
	a.cancel = nil
	a.mu.Unlock()

	if unsub == nil {
		return
	}
	unsub()
	cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (a *Archiver) run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.handle(ctx, ev)
		}
	}
}

func (a *Archiver) handle(ctx context.Context, ev eventbus.Event) {
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	switch ev.Type {
	case queue.EventFinished:
		je, ok := ev.Data.(queue.JobEvent)
		if !ok || !je.Job.Status.Terminal() {
			return
		}
		j := je.Job
		rec := JobRecord{
			ID:          j.ID,
			Owner:       j.Owner,
			Name:        j.Name,
			Priority:    j.Priority.String(),
			Status:      string(j.Status),
			Error:       j.Error,
			SubmittedAt: j.SubmittedAt,
			StartedAt:   j.StartedAt,
			FinishedAt:  j.FinishedAt,
			TookMS:      j.Duration().Milliseconds(),
		}
		if err := a.store.AppendJob(wctx, rec); err != nil {
			a.log.Warn("job archive failed", logx.String("id", j.ID), logx.Err(err))
		}
	case agent.EventRun:
		re, ok := ev.Data.(agent.RunEvent)
		if !ok {
			return
		}
		rec := AgentRunRecord{
			ID:            re.ID,
			Owner:         re.Owner,
			State:         string(re.State),
			Steps:         re.Steps,
			FinalResponse: re.FinalResponse,
			Error:         re.Error,
			At:            ev.Time,
		}
		if err := a.store.AppendAgentRun(wctx, rec); err != nil {
			a.log.Warn("agent run archive failed", logx.String("id", re.ID), logx.Err(err))
		}
	}
}
