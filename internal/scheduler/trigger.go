package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fablab/autonomy-core/internal/model"
)

// Trigger describes when a job fires: either a minute-granular,
// timezone-aware cron expression, or a fixed wall-clock interval.
// Interval triggers skip missed fires rather than backfill — Next
// always measures forward from "now", never from the last scheduled
// time, so a long pause costs only the jobs that would have fired
// during it, not a burst of catch-up runs.
type Trigger struct {
	Kind       model.TriggerKind
	Expression string // cron expression, or a Go duration string ("15m") for interval
}

func Cron(expr string) Trigger {
	return Trigger{Kind: model.TriggerCron, Expression: expr}
}

func Interval(d time.Duration) Trigger {
	return Trigger{Kind: model.TriggerInterval, Expression: d.String()}
}

// Next computes the next fire time strictly after now. Cron
// expressions are matched against the wall clock of the named IANA
// zone. When clocks fall back, a repeated wall-clock time fires only at
// its first occurrence. When clocks spring forward, a time inside the
// skipped gap fires just after the gap, shifted by the gap's length
// (with a one-hour gap, 02:30 fires at 03:30 the same day).
func (t Trigger) Next(now time.Time, timezone string) (time.Time, error) {
	switch t.Kind {
	case model.TriggerCron:
		loc := time.UTC
		if timezone != "" {
			l, err := time.LoadLocation(timezone)
			if err != nil {
				return time.Time{}, fmt.Errorf("scheduler: load timezone %q: %w", timezone, err)
			}
			loc = l
		}
		sched, err := cron.ParseStandard(t.Expression)
		if err != nil {
			return time.Time{}, fmt.Errorf("scheduler: parse cron expression %q: %w", t.Expression, err)
		}
		local := now.In(loc)
		civil := sched.Next(time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), time.UTC))
		for !civil.IsZero() {
			next := time.Date(civil.Year(), civil.Month(), civil.Day(), civil.Hour(), civil.Minute(), 0, 0, loc)
			if got := time.Date(next.Year(), next.Month(), next.Day(), next.Hour(), next.Minute(), 0, 0, time.UTC); got.Before(civil) {
				next = next.Add(civil.Sub(got))
			}
			if next.After(now) {
				return next, nil
			}
			civil = sched.Next(civil)
		}
		return time.Time{}, nil

	case model.TriggerInterval:
		period, err := time.ParseDuration(t.Expression)
		if err != nil {
			return time.Time{}, fmt.Errorf("scheduler: parse interval %q: %w", t.Expression, err)
		}
		if period <= 0 {
			return time.Time{}, fmt.Errorf("scheduler: interval must be positive, got %s", period)
		}
		return now.Add(period), nil

	default:
		return time.Time{}, fmt.Errorf("scheduler: unknown trigger kind %q", t.Kind)
	}
}
