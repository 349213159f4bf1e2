package notify

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"conductor/internal/eventbus"
	"conductor/internal/services/queue"
	"conductor/internal/services/scheduler"
	logx "conductor/pkg/logx"
)

type sinkEntry struct {
	sink Sink
	lim  *rate.Limiter
}

// Service is the notification fanout: a bus tap translating lifecycle events
// into notifications plus a worker pool delivering them to sinks.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	sinks   []sinkEntry
	queue   chan Notification
	dropped atomic.Uint64

	stopCh    chan struct{}
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
	unsub     func()
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		queue: make(chan Notification, cfg.QueueSize),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// AddSink registers a delivery target. Each sink gets its own rate limiter so
// one slow channel cannot starve the others.
func (s *Service) AddSink(sink Sink) {
	if sink == nil {
		return
	}
	s.mu.Lock()
	lim := rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), 1)
	s.sinks = append(s.sinks, sinkEntry{sink: sink, lim: lim})
	s.mu.Unlock()
}

// Enqueue queues a notification for delivery. It never blocks; when the queue
// is full the notification is dropped and counted.
func (s *Service) Enqueue(n Notification) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	select {
	case s.queue <- n:
	default:
		s.dropped.Add(1)
		s.log.Warn("notification dropped, queue full",
			logx.String("kind", n.Kind), logx.String("title", n.Title))
	}
}

// Dropped reports how many notifications were discarded because the queue
// was full.
func (s *Service) Dropped() uint64 { return s.dropped.Load() }

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
	workers := s.cfg.Workers
	s.mu.Unlock()

	if s.bus != nil {
		events, unsub := s.bus.Subscribe(s.cfg.QueueSize)
		s.mu.Lock()
		s.unsub = unsub
		s.mu.Unlock()

		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			s.dispatch(runCtx, stopCh, events)
		}()
	}

	for i := 0; i < workers; i++ {
		s.workerWG.Add(1)
		go func(idx int) {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in notify worker",
						logx.Int("worker", idx), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh)
		}(i)
	}

	s.log.Info("service started", logx.Int("workers", workers), logx.Int("queue_size", cap(s.queue)))
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
	unsub := s.unsub
	s.runCancel = nil
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	close(stopCh)
	if cancel != nil {
		cancel()
	}

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

// dispatch taps the event bus and turns lifecycle events into notifications.
func (s *Service) dispatch(ctx context.Context, stopCh <-chan struct{}, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if n, ok := translate(ev); ok {
				s.Enqueue(n)
			}
		}
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case n := <-s.queue:
			s.deliver(ctx, n)
		}
	}
}

func (s *Service) deliver(ctx context.Context, n Notification) {
	s.mu.Lock()
	sinks := make([]sinkEntry, len(s.sinks))
	copy(sinks, s.sinks)
	s.mu.Unlock()

	for _, se := range sinks {
		if err := se.lim.Wait(ctx); err != nil {
			return
		}
		if err := se.sink.Notify(ctx, n); err != nil {
			s.log.Warn("notification delivery failed",
				logx.String("sink", se.sink.Name()), logx.String("kind", n.Kind),
				logx.String("title", n.Title), logx.Err(err))
		}
	}
}

// translate maps bus events to notifications. Only events a human would care
// about produce one: finished jobs in a terminal state and schedule failures.
func translate(ev eventbus.Event) (Notification, bool) {
	switch ev.Type {
	case queue.EventFinished:
		je, ok := ev.Data.(queue.JobEvent)
		if !ok || !je.Job.Status.Terminal() {
			return Notification{}, false
		}
		n := Notification{
			Kind:  "job",
			Owner: je.Job.Owner,
			Title: fmt.Sprintf("job %s %s", je.Job.Name, je.Job.Status),
			Time:  ev.Time,
		}
		if je.Job.Error != "" {
			n.Body = je.Job.Error
		}
		return n, true
	case scheduler.EventError:
		re, ok := ev.Data.(scheduler.RunEvent)
		if !ok {
			return Notification{}, false
		}
		return Notification{
			Kind:  "schedule",
			Owner: re.Owner,
			Title: fmt.Sprintf("scheduled job %s failed", re.Name),
			Body:  re.Error,
			Time:  ev.Time,
		}, true
	default:
		return Notification{}, false
	}
}
