package scheduler

import (
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type cronKind int

const (
	// cronDaily is the simplified "MM HH" form: run at that clock time every
	// day, rolling to tomorrow when the time already passed.
	cronDaily cronKind = iota
	// cronEvery is "every <dur>": run that long after each completion.
	cronEvery
	// cronExpr is a full five-field cron expression or @descriptor.
	cronExpr
	// cronFallback is the lenient catch-all: run once more in one hour.
	// Kept for compatibility; callers log it loudly at registration.
	cronFallback
)

// cronParser accepts standard five-field specs and descriptors like @hourly.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type cronSpec struct {
	kind   cronKind
	minute int
	hour   int
	every  time.Duration
	sched  cron.Schedule
	raw    string
}

// parseCronSpec interprets a cron expression. The returned bool reports
// whether the lenient fallback was applied (nothing else could parse expr).
func parseCronSpec(expr string) (cronSpec, bool) {
	raw := strings.TrimSpace(expr)

	// "every 30m" / "every 2h"
	if rest, ok := strings.CutPrefix(strings.ToLower(raw), "every "); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(rest)); err == nil && d > 0 {
			return cronSpec{kind: cronEvery, every: d, raw: raw}, false
		}
		return cronSpec{kind: cronFallback, raw: raw}, true
	}

	// "MM HH" daily
	if fields := strings.Fields(raw); len(fields) == 2 {
		m, errM := strconv.Atoi(fields[0])
		h, errH := strconv.Atoi(fields[1])
		if errM == nil && errH == nil && m >= 0 && m <= 59 && h >= 0 && h <= 23 {
			return cronSpec{kind: cronDaily, minute: m, hour: h, raw: raw}, false
		}
	}

	// Full cron expression / descriptor.
	if sched, err := cronParser.Parse(raw); err == nil {
		return cronSpec{kind: cronExpr, sched: sched, raw: raw}, false
	}

	return cronSpec{kind: cronFallback, raw: raw}, true
}

// next computes the run time following now in the given location.
func (c cronSpec) next(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	switch c.kind {
	case cronDaily:
		local := now.In(loc)
		t := time.Date(local.Year(), local.Month(), local.Day(), c.hour, c.minute, 0, 0, loc)
		if !t.After(now) {
			t = t.Add(24 * time.Hour)
		}
		return t
	case cronEvery:
		return now.Add(c.every)
	case cronExpr:
		return c.sched.Next(now.In(loc))
	default:
		return now.Add(time.Hour)
	}
}
