package queue

import (
	"fmt"
	"time"
)

// rateWindow is the rolling interval the per-owner rate limit is computed over.
const rateWindow = time.Minute

// ownerState is one owner's quota profile plus its live counters.
//
// queued/running are maintained incrementally instead of being derived from
// the job table on every check; decrements floor at zero so the "counters
// never go negative" invariant holds even if bookkeeping is ever unbalanced.
type ownerState struct {
	quota   Quota
	window  []time.Time
	queued  int
	running int
}

// admission decides whether a new job from a given owner may be accepted.
//
// It holds no lock of its own: every method must be called with the queue
// service mutex held, so the check in canSubmit and the counter updates that
// follow it form one atomic sequence.
type admission struct {
	def    Quota
	owners map[string]*ownerState
}

func newAdmission(def Quota) *admission {
	return &admission{def: def, owners: map[string]*ownerState{}}
}

func (a *admission) setDefault(def Quota) { a.def = def }

// owner returns the owner's state, creating the profile lazily on first use.
func (a *admission) owner(name string) *ownerState {
	st := a.owners[name]
	if st == nil {
		st = &ownerState{quota: a.def}
		a.owners[name] = st
	}
	return st
}

func (a *admission) setQuota(name string, q Quota) {
	st := a.owner(name)
	if q.MaxRunning <= 0 {
		q.MaxRunning = a.def.MaxRunning
	}
	if q.MaxQueued <= 0 {
		q.MaxQueued = a.def.MaxQueued
	}
	if q.DefaultTimeout <= 0 {
		q.DefaultTimeout = a.def.DefaultTimeout
	}
	if q.RatePerMinute <= 0 {
		q.RatePerMinute = a.def.RatePerMinute
	}
	st.quota = q
}

// canSubmit checks the rolling-window rate limit and the queued-job cap.
// It never mutates counters: a rejection leaves the owner's state untouched
// apart from lazy pruning of expired window entries.
func (a *admission) canSubmit(name string, now time.Time) error {
	st := a.owner(name)
	st.prune(now)

	if len(st.window) >= st.quota.RatePerMinute {
		return fmt.Errorf("%w: %d submissions in the last minute (limit %d)",
			ErrRateLimited, len(st.window), st.quota.RatePerMinute)
	}
	if st.queued >= st.quota.MaxQueued {
		return fmt.Errorf("%w: %d queued (limit %d)",
			ErrOwnerQueueFull, st.queued, st.quota.MaxQueued)
	}
	return nil
}

// recordSubmission appends the submission timestamp to the rolling window.
// Call only after a successful canSubmit.
func (a *admission) recordSubmission(name string, now time.Time) {
	st := a.owner(name)
	st.window = append(st.window, now)
}

func (a *admission) defaultTimeout(name string) time.Duration {
	return a.owner(name).quota.DefaultTimeout
}

func (a *admission) runningBelowLimit(name string) bool {
	st := a.owner(name)
	return st.running < st.quota.MaxRunning
}

func (a *admission) incQueued(name string) { a.owner(name).queued++ }

func (a *admission) decQueued(name string) {
	if st := a.owner(name); st.queued > 0 {
		st.queued--
	}
}

func (a *admission) incRunning(name string) { a.owner(name).running++ }

func (a *admission) decRunning(name string) {
	if st := a.owner(name); st.running > 0 {
		st.running--
	}
}

// prune drops window entries older than the rolling interval.
func (st *ownerState) prune(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for ; i < len(st.window); i++ {
		if st.window[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		st.window = append(st.window[:0], st.window[i:]...)
	}
}
