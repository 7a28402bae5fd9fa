package scheduler

import (
	"fmt"
	"time"
)

// IntervalSchedule runs a job a fixed interval after its previous start.
// With Immediate set the first run is due as soon as the job is
// registered.
type IntervalSchedule struct {
	Interval  time.Duration
	Immediate bool
}

// NewIntervalSchedule creates a schedule whose first run is one interval
// away.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// NewImmediateIntervalSchedule creates a schedule whose first run is due
// at once.
func NewImmediateIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval, Immediate: true}
}

// First returns the first due time for a job registered at t.
func (s *IntervalSchedule) First(t time.Time) time.Time {
	if s.Immediate {
		return t
	}
	return s.Next(t)
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s *IntervalSchedule) String() string {
	if s.Immediate {
		return fmt.Sprintf("@every %s (immediate)", s.Interval)
	}
	return fmt.Sprintf("@every %s", s.Interval)
}
