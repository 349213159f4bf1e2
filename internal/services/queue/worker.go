package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"conductor/internal/telemetry"
	logx "conductor/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, idx int) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in queue worker",
				logx.Int("worker", idx), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	timer := time.NewTimer(s.pollInterval())
	defer timer.Stop()

	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		if j := s.tryDequeue(); j != nil {
			s.execOne(ctx, j)
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.pollInterval())
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

func (s *Service) pollInterval() time.Duration {
	s.mu.Lock()
	p := s.cfg.PollInterval
	s.mu.Unlock()
	return p
}

// tryDequeue pops the highest-priority eligible job and transitions it to
// Running. Jobs whose owner is at its running limit stay queued without
// losing their position; jobs cancelled while queued are discarded.
func (s *Service) tryDequeue() *job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deferred []*job
	var picked *job
	for len(s.pq) > 0 {
		j := heap.Pop(&s.pq).(*job)
		if j.status != StatusQueued {
			// Cancelled while queued; accounting already settled in Cancel.
			continue
		}
		if !s.adm.runningBelowLimit(j.owner) {
			deferred = append(deferred, j)
			continue
		}
		picked = j
		break
	}
	for _, d := range deferred {
		heap.Push(&s.pq, d)
	}

	if picked == nil {
		return nil
	}

	picked.status = StatusRunning
	picked.startedAt = time.Now()
	s.adm.decQueued(picked.owner)
	s.adm.incRunning(picked.owner)
	telemetry.QueueDepthGauge.Set(float64(len(s.pq)))
	return picked
}

type payloadResult struct {
	value any
	err   error
}

func (s *Service) execOne(ctx context.Context, j *job) {
	s.mu.Lock()
	timeout := j.timeout
	runCtx, advisoryCancel := context.WithCancel(ctx)
	j.cancel = advisoryCancel
	snap := j.snapshot()
	s.mu.Unlock()

	telemetry.InFlightGauge.Inc()
	s.publish(EventStarted, snap)

	jobCtx, timeoutCancel := context.WithTimeout(runCtx, timeout)

	done := make(chan payloadResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- payloadResult{err: fmt.Errorf("panic: %v", r)}
				s.log.Error("panic in job payload",
					logx.String("id", j.id), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		v, err := j.payload(jobCtx)
		done <- payloadResult{value: v, err: err}
	}()

	var res payloadResult
	gotResult := false
	timedOut := false
	select {
	case res = <-done:
		gotResult = true
	case <-jobCtx.Done():
		// We stop waiting here; the payload goroutine may keep running
		// detached until it observes its context.
		timedOut = errors.Is(jobCtx.Err(), context.DeadlineExceeded)
	}
	timeoutCancel()
	advisoryCancel()

	now := time.Now()
	s.mu.Lock()
	j.cancel = nil
	// Terminal states are frozen: if the owner cancelled this job while it was
	// running, the Cancel path already finalized it and we only settle counters.
	if !j.status.Terminal() {
		switch {
		case gotResult && res.err == nil:
			j.status = StatusCompleted
			j.result = res.value
		case gotResult && errors.Is(res.err, context.DeadlineExceeded) && errors.Is(jobCtx.Err(), context.DeadlineExceeded):
			// Cooperative payload surfaced its deadline before our select did.
			j.status = StatusTimedOut
			j.errMsg = fmt.Sprintf("job timed out after %s", timeout)
		case gotResult && errors.Is(res.err, context.Canceled) && ctx.Err() != nil:
			j.status = StatusCancelled
			j.errMsg = "worker pool stopped"
		case gotResult:
			j.status = StatusFailed
			j.errMsg = res.err.Error()
		case timedOut:
			j.status = StatusTimedOut
			j.errMsg = fmt.Sprintf("job timed out after %s", timeout)
		default:
			// jobCtx cancelled without a result or deadline: pool shutdown.
			j.status = StatusCancelled
			j.errMsg = "worker pool stopped"
		}
		j.finishedAt = now
	}
	s.adm.decRunning(j.owner)
	final := j.snapshot()
	s.mu.Unlock()

	telemetry.InFlightGauge.Dec()
	switch final.Status {
	case StatusCompleted:
		telemetry.JobsCompleted.Inc()
	case StatusFailed:
		telemetry.JobsFailed.Inc()
	case StatusTimedOut:
		telemetry.JobsTimedOut.Inc()
	}

	dur := final.Duration()
	switch {
	case final.Status == StatusCompleted && dur < 750*time.Millisecond:
		s.log.Debug("job completed", logx.String("id", final.ID), logx.String("job", final.Name), logx.Duration("dur", dur))
	case final.Status == StatusCompleted:
		s.log.Info("job completed", logx.String("id", final.ID), logx.String("job", final.Name), logx.Duration("dur", dur))
	default:
		s.log.Warn("job finished",
			logx.String("id", final.ID), logx.String("job", final.Name),
			logx.String("status", string(final.Status)), logx.String("err", final.Error),
			logx.Duration("dur", dur))
	}

	s.publish(EventFinished, final)
}
