package sampler

import (
	"context"
	"time"
)

// PeriodForRate converts a rate in ticks per second into a tick period,
// e.g. 30 -> 33.333ms. Non-positive rates yield zero.
func PeriodForRate(rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Second / time.Duration(rate)
}

// schedule is a fixed-rate timetable anchored at origin. Tick k is due at
// origin + k*period no matter how long earlier ticks took, so per-tick
// delays never accumulate into drift. A tick that is already overdue runs
// immediately.
type schedule struct {
	origin time.Time
	period time.Duration
	timer  *time.Timer
}

func newSchedule(origin time.Time, period time.Duration) *schedule {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return &schedule{origin: origin, period: period, timer: t}
}

func (s *schedule) deadline(k uint64) time.Time {
	return s.origin.Add(time.Duration(k) * s.period)
}

// wait blocks until the deadline for tick k. It reports false if ctx ended first.
func (s *schedule) wait(ctx context.Context, k uint64) bool {
	d := time.Until(s.deadline(k))
	if d <= 0 {
		return ctx.Err() == nil
	}

	s.timer.Reset(d)
	select {
	case <-ctx.Done():
		if !s.timer.Stop() {
			select {
			case <-s.timer.C:
			default:
			}
		}
		return false
	case <-s.timer.C:
		return true
	}
}

func (s *schedule) stop() {
	s.timer.Stop()
}
