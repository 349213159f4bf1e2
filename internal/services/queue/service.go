package queue

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"conductor/internal/eventbus"
	"conductor/internal/telemetry"
	logx "conductor/pkg/logx"
)

// Service owns the job table, the priority queue, and the worker pool.
//
// It is panic-safe (worker goroutines recover) and cooperates with shutdown
// via Start/Stop.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	adm  *admission
	jobs map[string]*job
	pq   jobHeap
	seq  uint64

	wake      chan struct{}
	stopCh    chan struct{}
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  cfg,
		log:  log,
		bus:  bus,
		adm:  newAdmission(cfg.DefaultQuota),
		jobs: map[string]*job{},
		wake: make(chan struct{}, 1),
	}
}

// Apply updates the configuration. If worker count or queue capacity changed
// while running, the pool is restarted; jobs already in the table survive.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	s.adm.setDefault(cfg.DefaultQuota)
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	if !running {
		return
	}
	if prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// SetQuota installs a per-owner quota profile override. Zero fields fall back
// to the queue-wide defaults.
func (s *Service) SetQuota(owner string, q Quota) {
	s.mu.Lock()
	s.adm.setQuota(owner, q)
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	// If a Stop() is in progress, wait for it to complete (prevents double pools).
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
	defer s.mu.Unlock()

	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	workers := s.cfg.Workers
	runCtx := s.runCtx
	stopCh := s.stopCh

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			s.log.Debug("worker started", logx.Int("worker", idx))
			s.worker(runCtx, stopCh, idx)
			s.log.Debug("worker stopped", logx.Int("worker", idx))
		}()
	}

	s.log.Info("service started",
		logx.Int("workers", workers),
		logx.Int("queue_size", s.cfg.QueueSize))
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

	// Finalize cleanup in background so Stop() can return on ctx timeout.
	go func() {
		s.workerWG.Wait()
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

// Submit admits, constructs, and enqueues a job, returning its handle
// immediately. Capacity rejections (queue full, owner rate/depth limits) are
// synchronous errors and create no Job.
func (s *Service) Submit(owner, name string, payload Payload, priority Priority, timeout time.Duration) (Job, error) {
	if payload == nil {
		return Job{}, ErrNilPayload
	}

	now := time.Now()

	s.mu.Lock()
	if s.stopCh == nil || s.stopDone != nil {
		s.mu.Unlock()
		return Job{}, ErrStopped
	}
	if len(s.pq) >= s.cfg.QueueSize {
		s.mu.Unlock()
		telemetry.CapacityRejects.Inc()
		s.log.Warn("submission rejected: queue full",
			logx.String("owner", owner), logx.String("job", name), logx.Int("queue_cap", s.cfg.QueueSize))
		return Job{}, ErrQueueFull
	}
	if err := s.adm.canSubmit(owner, now); err != nil {
		s.mu.Unlock()
		if IsCapacity(err) {
			telemetry.RateLimitRejects.Inc()
		}
		s.log.Debug("submission rejected",
			logx.String("owner", owner), logx.String("job", name), logx.Err(err))
		return Job{}, err
	}

	if timeout <= 0 {
		timeout = s.adm.defaultTimeout(owner)
	}

	s.seq++
	j := &job{
		id:          uuid.NewString(),
		owner:       owner,
		name:        name,
		priority:    priority,
		status:      StatusPending,
		timeout:     timeout,
		payload:     payload,
		submittedAt: now,
		seq:         s.seq,
		index:       -1,
	}

	s.adm.recordSubmission(owner, now)
	j.status = StatusQueued
	s.adm.incQueued(owner)
	heap.Push(&s.pq, j)
	s.jobs[j.id] = j
	depth := len(s.pq)
	snap := j.snapshot()
	s.mu.Unlock()

	telemetry.JobsSubmitted.Inc()
	telemetry.QueueDepthGauge.Set(float64(depth))
	s.publish(EventQueued, snap)
	s.signalWake()

	s.log.Debug("job queued",
		logx.String("id", snap.ID), logx.String("owner", owner),
		logx.String("job", name), logx.String("priority", priority.String()),
		logx.Duration("timeout", timeout), logx.Int("depth", depth))
	return snap, nil
}

// Cancel requests cancellation of a job. It succeeds only when requester is
// the job's owner and the job is not already terminal. For running jobs the
// cancellation is advisory: the payload's context is cancelled, but work that
// ignores it is not forcibly interrupted.
func (s *Service) Cancel(id, requester string) bool {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok || j.owner != requester || j.status.Terminal() {
		s.mu.Unlock()
		return false
	}

	cancel := j.cancel
	wasQueued := j.status == StatusQueued || j.status == StatusPending
	j.status = StatusCancelled
	j.errMsg = "cancelled by owner"
	j.finishedAt = time.Now()
	if wasQueued {
		if j.index >= 0 {
			heap.Remove(&s.pq, j.index)
		}
		s.adm.decQueued(j.owner)
	}
	depth := len(s.pq)
	snap := j.snapshot()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	telemetry.JobsCancelled.Inc()
	telemetry.QueueDepthGauge.Set(float64(depth))
	if wasQueued {
		// Running jobs get their finished event from the owning worker.
		s.publish(EventFinished, snap)
	}
	s.log.Debug("job cancelled", logx.String("id", id), logx.Bool("was_queued", wasQueued))
	return true
}

// Job returns a snapshot of the job with the given id.
func (s *Service) Job(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return j.snapshot(), true
}

// Jobs returns snapshots filtered by owner and (optionally) status,
// most-recent-first. A zero limit means no limit.
func (s *Service) Jobs(owner string, status Status, limit int) []Job {
	s.mu.Lock()
	out := make([]Job, 0, 16)
	for _, j := range s.jobs {
		if owner != "" && j.owner != owner {
			continue
		}
		if status != "" && j.status != status {
			continue
		}
		out = append(out, j.snapshot())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		return out[i].SubmittedAt.After(out[k].SubmittedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	by := map[Status]int{}
	for _, j := range s.jobs {
		by[j.status]++
	}
	return Stats{
		QueueDepth: len(s.pq),
		ByStatus:   by,
		Workers:    s.cfg.Workers,
		Running:    s.stopCh != nil && s.stopDone == nil,
	}
}

// CleanupOldJobs removes terminal jobs that finished more than maxAge ago and
// returns how many were removed. Non-terminal jobs are never touched.
func (s *Service) CleanupOldJobs(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	removed := 0
	for id, j := range s.jobs {
		if j.status.Terminal() && !j.finishedAt.IsZero() && j.finishedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.log.Debug("old jobs cleaned up", logx.Int("removed", removed), logx.Duration("max_age", maxAge))
	}
	return removed
}

func (s *Service) publish(event string, j Job) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: event, Data: JobEvent{Event: event, Job: j}})
}

func (s *Service) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
