package store

import (
	"time"

	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

// PayPeriodInput holds the fields of a new pay period.
type PayPeriodInput struct {
	JobID         string
	StartDate     time.Time
	EndDate       time.Time
	TotalDuration time.Duration
	TotalEarnings float64
	TimeEntryIDs  []string
}

// PayPeriodPatch lists the pay period fields to change. Payment status is
// changed with MarkPayPeriodPaid and MarkPayPeriodUnpaid.
type PayPeriodPatch struct {
	StartDate     *time.Time
	EndDate       *time.Time
	TotalDuration *time.Duration
	TotalEarnings *float64
	TimeEntryIDs  *[]string
}

// CreatePayPeriod inserts an unpaid pay period and returns its id.
func (s *Store) CreatePayPeriod(in PayPeriodInput) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	period := s.insertPeriod(in)
	s.commit([]change{{schema.EntityPayPeriod, period.ID, schema.OpCreate, period.Clone()}})
	return period.ID
}

func (s *Store) insertPeriod(in PayPeriodInput) *schema.PayPeriod {
	period := &schema.PayPeriod{
		ID:              s.newID(),
		JobID:           in.JobID,
		StartDate:       in.StartDate,
		EndDate:         in.EndDate,
		TotalDurationMs: in.TotalDuration.Milliseconds(),
		TotalEarnings:   in.TotalEarnings,
		TimeEntryIDs:    append([]string{}, in.TimeEntryIDs...),
		CreatedAt:       s.now(),
	}
	s.periods[period.ID] = period
	return period
}

// GeneratePayPeriod creates a pay period for jobID covering its closed,
// unpaid entries that started within [start, end], with totals computed
// from the job's rate, rounding and overtime rules. It returns false if the
// job is unknown.
func (s *Store) GeneratePayPeriod(jobID string, start, end time.Time) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return "", false
	}

	var candidates []schema.TimeEntry
	for _, e := range s.entriesLocked() {
		if !e.IsPaid() {
			candidates = append(candidates, e)
		}
	}
	totals := schema.ComputePayPeriodTotals(*job, candidates, start, end)

	period := s.insertPeriod(PayPeriodInput{
		JobID:         jobID,
		StartDate:     start,
		EndDate:       end,
		TotalDuration: totals.Duration,
		TotalEarnings: totals.Earnings,
		TimeEntryIDs:  totals.EntryIDs,
	})
	s.commit([]change{{schema.EntityPayPeriod, period.ID, schema.OpCreate, period.Clone()}})
	return period.ID, true
}

// UpdatePayPeriod merges patch into the period. It returns false if the id is
// unknown.
func (s *Store) UpdatePayPeriod(id string, patch PayPeriodPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	period, ok := s.periods[id]
	if !ok {
		return false
	}
	if patch.StartDate != nil {
		period.StartDate = *patch.StartDate
	}
	if patch.EndDate != nil {
		period.EndDate = *patch.EndDate
	}
	if patch.TotalDuration != nil {
		period.TotalDurationMs = patch.TotalDuration.Milliseconds()
	}
	if patch.TotalEarnings != nil {
		period.TotalEarnings = *patch.TotalEarnings
	}
	if patch.TimeEntryIDs != nil {
		period.TimeEntryIDs = append([]string{}, (*patch.TimeEntryIDs)...)
	}
	s.commit([]change{{schema.EntityPayPeriod, id, schema.OpUpdate, period.Clone()}})
	return true
}

// MarkPayPeriodPaid marks the period paid on paidDate and links every covered
// entry to it. The period update is recorded first, then one update per entry
// whose link changed. It returns false if the id is unknown.
func (s *Store) MarkPayPeriodPaid(id string, paidDate time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	period, ok := s.periods[id]
	if !ok {
		return false
	}
	period.IsPaid = true
	period.PaidDate = &paidDate
	changes := []change{{schema.EntityPayPeriod, id, schema.OpUpdate, period.Clone()}}

	for _, entryID := range period.TimeEntryIDs {
		entry, ok := s.entries[entryID]
		if !ok || entry.PaidInPeriodID == id {
			continue
		}
		entry.PaidInPeriodID = id
		changes = append(changes, change{schema.EntityTimeEntry, entryID, schema.OpUpdate, entry.Clone()})
	}
	s.commit(changes)
	return true
}

// MarkPayPeriodUnpaid clears the payment status of the period and unlinks the
// entries that point at it. It returns false if the id is unknown.
func (s *Store) MarkPayPeriodUnpaid(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	period, ok := s.periods[id]
	if !ok {
		return false
	}
	period.IsPaid = false
	period.PaidDate = nil
	changes := []change{{schema.EntityPayPeriod, id, schema.OpUpdate, period.Clone()}}
	changes = append(changes, s.unlinkLocked(id)...)
	s.commit(changes)
	return true
}

// DeletePayPeriod removes the period and unlinks the entries that were paid
// in it. It returns false if the id is unknown.
func (s *Store) DeletePayPeriod(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.periods[id]; !ok {
		return false
	}
	delete(s.periods, id)
	changes := []change{{schema.EntityPayPeriod, id, schema.OpDelete, nil}}
	changes = append(changes, s.unlinkLocked(id)...)
	s.commit(changes)
	return true
}

func (s *Store) unlinkLocked(periodID string) []change {
	var changes []change
	for _, e := range s.entriesLocked() {
		if e.PaidInPeriodID != periodID {
			continue
		}
		entry := s.entries[e.ID]
		entry.PaidInPeriodID = ""
		changes = append(changes, change{schema.EntityTimeEntry, e.ID, schema.OpUpdate, entry.Clone()})
	}
	return changes
}

// PayPeriod returns a copy of the period with the given id.
func (s *Store) PayPeriod(id string) (schema.PayPeriod, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	period, ok := s.periods[id]
	if !ok {
		return schema.PayPeriod{}, false
	}
	return period.Clone(), true
}

// PayPeriods returns all periods ordered by creation time.
func (s *Store) PayPeriods() []schema.PayPeriod {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.periodsLocked()
}
