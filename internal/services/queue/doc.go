// Package queue implements the multi-tenant work queue at the heart of
// conductor: per-owner admission control, a bounded priority queue, and a
// fixed worker pool executing job payloads under a timeout.
//
// # Admission
//
// Every submitting identity gets a lazily-created quota profile: a rolling
// 60-second submission window, a queued-job cap, a running-job cap, and a
// default per-job timeout. Submissions that exceed the rate or depth limits
// are rejected synchronously with a capacity error and no Job is created.
//
// # Ordering
//
// Queued jobs drain strictly by (priority descending, submission order
// ascending). Equal-priority jobs are FIFO. Once multiple jobs are eligible,
// no ordering is guaranteed for start time across workers.
//
// # Cancellation and timeouts
//
// A payload receives a context that is cancelled when its timeout elapses or
// its owner cancels the job. The worker only stops waiting: a payload that
// ignores its context keeps running detached until it returns. This is a
// documented limitation, not a bug.
//
// # Lifecycle events
//
// The service publishes job.queued, job.started and job.finished events on
// the event bus. Subscriber failures never reach the worker loop.
package queue
