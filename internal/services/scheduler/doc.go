// Package scheduler fires registered callbacks at specified times without
// requiring callers to manage timers.
//
// A single background loop wakes on a short fixed tick (1s by default),
// scans the registry, and runs every job whose next-run time is due.
// Callbacks execute inline on the loop, so a slow callback delays later due
// checks within the same tick; callbacks are expected to be cheap, typically
// just submitting work to the queue service.
//
// # Trigger kinds
//
//   - Once: an absolute run time; terminal after one run.
//   - Interval: a fixed period, optional immediate first run, optional
//     max-run count.
//   - Cron: "MM HH" (daily at that clock time), "every <dur>", or a full
//     five-field cron expression / @descriptor. Anything unparseable falls
//     back to "run once more in one hour"; the fallback is logged loudly
//     because it usually masks a configuration mistake.
//
// A failing callback is caught and recorded on the job; it never halts the
// loop or other jobs.
package scheduler
