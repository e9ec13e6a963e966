package schema

import (
	"fmt"
	"sort"
	"time"
)

// PayPeriod groups closed time entries of one job for payment.
type PayPeriod struct {
	ID              string     `json:"id"`
	JobID           string     `json:"job_id"`
	StartDate       time.Time  `json:"start_date"`
	EndDate         time.Time  `json:"end_date"`
	TotalDurationMs int64      `json:"total_duration_ms"`
	TotalEarnings   float64    `json:"total_earnings"`
	IsPaid          bool       `json:"is_paid"`
	PaidDate        *time.Time `json:"paid_date,omitempty"`
	TimeEntryIDs    []string   `json:"time_entry_ids"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Validate checks if the PayPeriod has valid field values.
func (p *PayPeriod) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if p.EndDate.Before(p.StartDate) {
		return fmt.Errorf("end_date is before start_date")
	}
	if p.IsPaid != (p.PaidDate != nil) {
		return fmt.Errorf("paid_date must be set if and only if is_paid")
	}
	if p.TotalDurationMs < 0 || p.TotalEarnings < 0 {
		return fmt.Errorf("totals must not be negative")
	}
	if p.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// Clone returns a deep copy of the pay period.
func (p PayPeriod) Clone() PayPeriod {
	p.PaidDate = cloneTime(p.PaidDate)
	p.TimeEntryIDs = cloneStrings(p.TimeEntryIDs)
	return p
}

// TotalDuration returns the covered worked time.
func (p *PayPeriod) TotalDuration() time.Duration {
	return time.Duration(p.TotalDurationMs) * time.Millisecond
}

// Covers reports whether the period lists the given entry id.
func (p *PayPeriod) Covers(entryID string) bool {
	for _, id := range p.TimeEntryIDs {
		if id == entryID {
			return true
		}
	}
	return false
}

// PayPeriodTotals is the result of ComputePayPeriodTotals.
type PayPeriodTotals struct {
	EntryIDs []string
	Duration time.Duration
	Earnings float64
}

// ComputePayPeriodTotals selects the closed entries of job that started in
// [start, end] and sums their rounded durations and earnings. Earnings are
// computed per calendar day in order, so daily overtime applies per day and
// weekly overtime per ISO week. Only entries inside the period count toward
// the weekly threshold.
func ComputePayPeriodTotals(job Job, entries []TimeEntry, start, end time.Time) PayPeriodTotals {
	var totals PayPeriodTotals
	perDay := make(map[string]time.Duration)
	var days []string

	for i := range entries {
		e := &entries[i]
		if e.JobID != job.ID || e.EndTime == nil {
			continue
		}
		if e.StartTime.Before(start) || e.StartTime.After(end) {
			continue
		}
		d := job.RoundDuration(e.Duration(*e.EndTime))
		totals.EntryIDs = append(totals.EntryIDs, e.ID)
		totals.Duration += d

		day := e.StartTime.Format("2006-01-02")
		if _, ok := perDay[day]; !ok {
			days = append(days, day)
		}
		perDay[day] += d
	}

	sort.Strings(days)
	weekRegular := make(map[[2]int]float64)
	for _, day := range days {
		d, _ := time.Parse("2006-01-02", day)
		year, week := d.ISOWeek()
		key := [2]int{year, week}

		regular, overtime := job.splitOvertime(perDay[day].Hours(), weekRegular[key])
		weekRegular[key] += regular
		totals.Earnings += roundCents(job.pay(regular, overtime))
	}
	totals.Earnings = roundCents(totals.Earnings)
	return totals
}
