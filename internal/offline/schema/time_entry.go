package schema

import (
	"fmt"
	"time"
)

// Break is a pause inside a time entry. EndTime is nil while the break is
// running.
type Break struct {
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// Duration returns the break length, measured up to now if it is still open.
func (b Break) Duration(now time.Time) time.Duration {
	end := now
	if b.EndTime != nil {
		end = *b.EndTime
	}
	if end.Before(b.StartTime) {
		return 0
	}
	return end.Sub(b.StartTime)
}

// TimeEntry is one tracked interval of work on a job.
type TimeEntry struct {
	ID             string     `json:"id"`
	JobID          string     `json:"job_id"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	Note           string     `json:"note,omitempty"`
	Breaks         []Break    `json:"breaks,omitempty"`
	IsOnBreak      bool       `json:"is_on_break"`
	PaidInPeriodID string     `json:"paid_in_period_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Validate checks if the TimeEntry has valid field values.
func (e *TimeEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if e.StartTime.IsZero() {
		return fmt.Errorf("start_time is required")
	}
	if e.EndTime != nil && e.EndTime.Before(e.StartTime) {
		return fmt.Errorf("end_time %s is before start_time %s",
			e.EndTime.Format(time.RFC3339), e.StartTime.Format(time.RFC3339))
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	open := 0
	for i, b := range e.Breaks {
		if b.EndTime == nil {
			open++
			if i != len(e.Breaks)-1 {
				return fmt.Errorf("only the last break may be open")
			}
		}
	}
	if open > 0 && (!e.IsOnBreak || e.EndTime != nil) {
		return fmt.Errorf("open break on an entry that is not on break")
	}
	if e.IsOnBreak && open == 0 {
		return fmt.Errorf("entry is on break without an open break")
	}
	return nil
}

// Clone returns a deep copy of the entry.
func (e TimeEntry) Clone() TimeEntry {
	e.EndTime = cloneTime(e.EndTime)
	if e.Breaks != nil {
		breaks := make([]Break, len(e.Breaks))
		for i, b := range e.Breaks {
			breaks[i] = Break{StartTime: b.StartTime, EndTime: cloneTime(b.EndTime)}
		}
		e.Breaks = breaks
	}
	return e
}

// IsOpen reports whether the entry is still running.
func (e *TimeEntry) IsOpen() bool {
	return e.EndTime == nil
}

// IsPaid reports whether a paid pay period covers the entry.
func (e *TimeEntry) IsPaid() bool {
	return e.PaidInPeriodID != ""
}

// BreakDuration returns the total length of all breaks, measuring an open
// break up to now.
func (e *TimeEntry) BreakDuration(now time.Time) time.Duration {
	var total time.Duration
	for _, b := range e.Breaks {
		total += b.Duration(now)
	}
	return total
}

// Duration returns worked time: (end or now) minus start minus breaks.
func (e *TimeEntry) Duration(now time.Time) time.Duration {
	end := now
	if e.EndTime != nil {
		end = *e.EndTime
	}
	if end.Before(e.StartTime) {
		return 0
	}
	d := end.Sub(e.StartTime) - e.BreakDuration(end)
	if d < 0 {
		return 0
	}
	return d
}

// Close ends the entry at t. A running break is closed at the same instant.
func (e *TimeEntry) Close(t time.Time) {
	if e.IsOnBreak {
		e.endBreakAt(t)
	}
	end := t
	if end.Before(e.StartTime) {
		end = e.StartTime
	}
	e.EndTime = &end
}

// StartBreakAt opens a new break. It returns false if the entry is closed or
// already on break.
func (e *TimeEntry) StartBreakAt(t time.Time) bool {
	if e.EndTime != nil || e.IsOnBreak {
		return false
	}
	e.Breaks = append(e.Breaks, Break{StartTime: t})
	e.IsOnBreak = true
	return true
}

// EndBreakAt closes the running break. It returns false if the entry is not
// on break.
func (e *TimeEntry) EndBreakAt(t time.Time) bool {
	if !e.IsOnBreak {
		return false
	}
	e.endBreakAt(t)
	return true
}

func (e *TimeEntry) endBreakAt(t time.Time) {
	e.IsOnBreak = false
	if n := len(e.Breaks); n > 0 && e.Breaks[n-1].EndTime == nil {
		end := t
		if end.Before(e.Breaks[n-1].StartTime) {
			end = e.Breaks[n-1].StartTime
		}
		e.Breaks[n-1].EndTime = &end
	}
}
