package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"conductor/internal/eventbus"
	"conductor/internal/telemetry"
	logx "conductor/pkg/logx"
)

// Service maintains the scheduled-job registry and the tick loop.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	loc *time.Location

	entries map[string]*entry

	stopCh    chan struct{}
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	loopWG    sync.WaitGroup
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		entries: map[string]*entry{},
	}
	s.loc = s.loadLocation(cfg.Timezone)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.loc = s.loadLocation(cfg.Timezone)
	s.mu.Unlock()
	// Tick changes take effect on the next loop iteration; no restart needed.
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}

	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	runCtx := s.runCtx
	stopCh := s.stopCh
	tick := s.cfg.Tick
	tz := s.loc.String()
	jobs := len(s.entries)
	s.mu.Unlock()

	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in scheduler loop", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		s.loop(runCtx, stopCh)
	}()

	s.log.Info("service started", logx.Duration("tick", tick), logx.String("tz", tz), logx.Int("schedules", jobs))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		s.loopWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

func (s *Service) loop(ctx context.Context, stopCh <-chan struct{}) {
	for {
		s.mu.Lock()
		tick := s.cfg.Tick
		s.mu.Unlock()

		timer := time.NewTimer(tick)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		s.runDue(ctx, time.Now())
	}
}

// runDue executes every registered job whose next run is due, inline and in
// deterministic (next-run, id) order.
func (s *Service) runDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]*entry, 0, 4)
	for _, e := range s.entries {
		if e.hasNext && !e.nextRun.After(now) && e.status != StatusRunning {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].nextRun.Equal(due[j].nextRun) {
			return due[i].nextRun.Before(due[j].nextRun)
		}
		return due[i].id < due[j].id
	})
	for _, e := range due {
		e.status = StatusRunning
	}
	s.mu.Unlock()

	for _, e := range due {
		s.runOne(ctx, e)
	}
}

func (s *Service) runOne(ctx context.Context, e *entry) {
	start := time.Now()
	err := invoke(ctx, e.cb)
	ranAt := time.Now()

	s.mu.Lock()
	// Cancelled mid-run: record the run but never resurrect the schedule.
	cancelled := e.status == StatusCancelled
	e.lastRun = start
	e.runCount++
	if err != nil {
		e.lastErr = err.Error()
	} else {
		e.lastErr = ""
	}

	switch {
	case cancelled:
		e.hasNext = false
	case e.kind == TriggerOnce:
		e.hasNext = false
		if err != nil {
			e.status = StatusFailed
		} else {
			e.status = StatusCompleted
		}
	case e.maxRuns > 0 && e.runCount >= e.maxRuns:
		e.hasNext = false
		e.status = StatusCompleted
	default:
		if e.kind == TriggerInterval {
			e.nextRun = ranAt.Add(e.period)
		} else {
			e.nextRun = e.cspec.next(ranAt, s.loc)
		}
		e.hasNext = true
		if err != nil {
			e.status = StatusFailed
		} else {
			e.status = StatusPending
		}
	}
	ev := RunEvent{ID: e.id, Name: e.name, Owner: e.owner, RunCount: e.runCount, Error: e.lastErr}
	s.mu.Unlock()

	telemetry.SchedulerRuns.Inc()
	if err != nil {
		telemetry.SchedulerErrors.Inc()
		s.log.Warn("scheduled job failed",
			logx.String("id", e.id), logx.String("name", e.name),
			logx.Err(err), logx.Duration("dur", ranAt.Sub(start)))
		s.publishRun(EventError, ev)
	} else {
		s.log.Debug("scheduled job ran",
			logx.String("id", e.id), logx.String("name", e.name),
			logx.Int("run_count", ev.RunCount), logx.Duration("dur", ranAt.Sub(start)))
		s.publishRun(EventRun, ev)
	}
}

// invoke runs a callback, converting panics into errors so one bad job can
// never take down the loop.
func invoke(ctx context.Context, cb Callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicErr{r}
		}
	}()
	return cb(ctx)
}

type panicErr struct{ v any }

func (p panicErr) Error() string { return fmt.Sprintf("panic: %v", p.v) }

func (s *Service) publishRun(event string, ev RunEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: event, Data: ev})
}

func (s *Service) loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
