package store

import (
	"time"

	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

// TimeEntryInput holds the fields of a manually added time entry. A zero
// StartTime means now. A nil EndTime starts a running entry, exactly like
// StartEntry.
type TimeEntryInput struct {
	JobID     string
	StartTime time.Time
	EndTime   *time.Time
	Note      string
	Breaks    []schema.Break
}

// TimeEntryPatch lists the time entry fields to change. Nil fields are left
// alone. Setting EndTime on the active entry stops it.
type TimeEntryPatch struct {
	JobID          *string
	StartTime      *time.Time
	EndTime        *time.Time
	Note           *string
	Breaks         *[]schema.Break
	PaidInPeriodID *string
}

// StartEntry starts a new running entry for jobID and makes it active. A
// previously active entry is stopped first and that stop is recorded before
// the new entry's create.
func (s *Store) StartEntry(jobID, note string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, changes := s.applyStart(jobID, note, s.now())
	s.commit(changes)
	return id
}

func (s *Store) applyStart(jobID, note string, start time.Time) (string, []change) {
	var changes []change
	if _, c, ok := s.applyStop(start); ok {
		changes = append(changes, c...)
	}

	entry := &schema.TimeEntry{
		ID:        s.newID(),
		JobID:     jobID,
		StartTime: start,
		Note:      note,
		CreatedAt: s.now(),
	}
	s.entries[entry.ID] = entry
	s.activeID = entry.ID
	changes = append(changes, change{schema.EntityTimeEntry, entry.ID, schema.OpCreate, entry.Clone()})
	return entry.ID, changes
}

// StopEntry closes the active entry at now, ending a running break at the
// same instant. It returns the stopped id, or false if nothing was active.
func (s *Store) StopEntry() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, changes, ok := s.applyStop(s.now())
	s.commit(changes)
	return id, ok
}

func (s *Store) applyStop(at time.Time) (string, []change, bool) {
	entry := s.activeLocked()
	if entry == nil {
		return "", nil, false
	}
	entry.Close(at)
	s.activeID = ""
	return entry.ID, []change{{schema.EntityTimeEntry, entry.ID, schema.OpUpdate, entry.Clone()}}, true
}

// StartBreak opens a break on the active entry. It is a no-op returning false
// when nothing is active or the entry is already on break.
func (s *Store) StartBreak() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.activeLocked()
	if entry == nil || !entry.StartBreakAt(s.now()) {
		return false
	}
	s.commit([]change{{schema.EntityTimeEntry, entry.ID, schema.OpUpdate, entry.Clone()}})
	return true
}

// EndBreak closes the running break of the active entry. It is a no-op
// returning false when the active entry is not on break.
func (s *Store) EndBreak() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.activeLocked()
	if entry == nil || !entry.EndBreakAt(s.now()) {
		return false
	}
	s.commit([]change{{schema.EntityTimeEntry, entry.ID, schema.OpUpdate, entry.Clone()}})
	return true
}

// CreateTimeEntry inserts a time entry and returns its id.
func (s *Store) CreateTimeEntry(in TimeEntryInput) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := in.StartTime
	if start.IsZero() {
		start = s.now()
	}
	if in.EndTime == nil {
		id, changes := s.applyStart(in.JobID, in.Note, start)
		s.commit(changes)
		return id
	}

	entry := &schema.TimeEntry{
		ID:        s.newID(),
		JobID:     in.JobID,
		StartTime: start,
		Note:      in.Note,
		CreatedAt: s.now(),
	}
	if n := len(in.Breaks); n > 0 {
		entry.Breaks = (schema.TimeEntry{Breaks: in.Breaks}).Clone().Breaks
		entry.IsOnBreak = entry.Breaks[n-1].EndTime == nil
	}
	entry.Close(*in.EndTime)
	s.entries[entry.ID] = entry
	s.commit([]change{{schema.EntityTimeEntry, entry.ID, schema.OpCreate, entry.Clone()}})
	return entry.ID
}

// UpdateTimeEntry merges patch into the entry. It returns false if the id is
// unknown.
func (s *Store) UpdateTimeEntry(id string, patch TimeEntryPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes := s.applyUpdateTimeEntry(id, patch)
	s.commit(changes)
	return len(changes) > 0
}

func (s *Store) applyUpdateTimeEntry(id string, patch TimeEntryPatch) []change {
	entry, ok := s.entries[id]
	if !ok {
		return nil
	}
	if patch.JobID != nil {
		entry.JobID = *patch.JobID
	}
	if patch.StartTime != nil {
		entry.StartTime = *patch.StartTime
	}
	if patch.Note != nil {
		entry.Note = *patch.Note
	}
	if patch.Breaks != nil {
		entry.Breaks = (schema.TimeEntry{Breaks: *patch.Breaks}).Clone().Breaks
		entry.IsOnBreak = false
		if n := len(entry.Breaks); n > 0 && entry.Breaks[n-1].EndTime == nil {
			entry.IsOnBreak = true
		}
	}
	if patch.PaidInPeriodID != nil {
		entry.PaidInPeriodID = *patch.PaidInPeriodID
	}
	if patch.EndTime != nil {
		entry.Close(*patch.EndTime)
		if s.activeID == id {
			s.activeID = ""
		}
	}
	return []change{{schema.EntityTimeEntry, id, schema.OpUpdate, entry.Clone()}}
}

// DeleteTimeEntry removes the entry. Deleting the active entry clears the
// active pointer. It returns false if the id is unknown.
func (s *Store) DeleteTimeEntry(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	if s.activeID == id {
		s.activeID = ""
	}
	s.commit([]change{{schema.EntityTimeEntry, id, schema.OpDelete, nil}})
	return true
}

// TimeEntry returns a copy of the entry with the given id.
func (s *Store) TimeEntry(id string) (schema.TimeEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return schema.TimeEntry{}, false
	}
	return entry.Clone(), true
}

// TimeEntries returns all entries ordered by creation time.
func (s *Store) TimeEntries() []schema.TimeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entriesLocked()
}

// ActiveEntry returns a copy of the running entry, if any.
func (s *Store) ActiveEntry() (schema.TimeEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.activeLocked()
	if entry == nil {
		return schema.TimeEntry{}, false
	}
	return entry.Clone(), true
}

func (s *Store) activeLocked() *schema.TimeEntry {
	if s.activeID == "" {
		return nil
	}
	entry, ok := s.entries[s.activeID]
	if !ok || !entry.IsOpen() {
		return nil
	}
	return entry
}
