package store

import (
	"sort"

	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

// The Replace methods install a collection fetched from the remote backend.
// They record no outbox items.
//
// keep lists entity ids whose local state is authoritative: a local version
// of such an id survives the replace (overriding the fetched one), and a
// fetched entity with such an id that no longer exists locally is skipped.
// Only rows this store knew about or received are written, so rows another
// process added to the database meanwhile survive.

// ReplaceJobs installs jobs as the full job collection.
func (s *Store) ReplaceJobs(jobs []schema.Job, keep map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var d schema.Delta
	next := make(map[string]*schema.Job, len(jobs))
	for _, j := range jobs {
		if keep[j.ID] {
			continue
		}
		c := j.Clone()
		next[c.ID] = &c
		d.Jobs = append(d.Jobs, c.Clone())
	}
	for id := range keep {
		if local, ok := s.jobs[id]; ok {
			next[id] = local
		}
	}
	d.Deleted = removed(schema.EntityJob, s.jobs, next)
	s.jobs = next
	s.persist(d)
}

// ReplaceTimeEntries installs entries as the full time entry collection.
//
// The active pointer survives if its entry is still present and open.
// Otherwise the most recently started open entry becomes active, if any.
func (s *Store) ReplaceTimeEntries(entries []schema.TimeEntry, keep map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var d schema.Delta
	next := make(map[string]*schema.TimeEntry, len(entries))
	for _, e := range entries {
		if keep[e.ID] {
			continue
		}
		c := e.Clone()
		next[c.ID] = &c
		d.TimeEntries = append(d.TimeEntries, c.Clone())
	}
	for id := range keep {
		if local, ok := s.entries[id]; ok {
			next[id] = local
		}
	}
	d.Deleted = removed(schema.EntityTimeEntry, s.entries, next)
	s.entries = next
	s.fixActiveLocked()
	s.persist(d)
}

// ReplacePayPeriods installs periods as the full pay period collection.
func (s *Store) ReplacePayPeriods(periods []schema.PayPeriod, keep map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var d schema.Delta
	next := make(map[string]*schema.PayPeriod, len(periods))
	for _, p := range periods {
		if keep[p.ID] {
			continue
		}
		c := p.Clone()
		next[c.ID] = &c
		d.PayPeriods = append(d.PayPeriods, c.Clone())
	}
	for id := range keep {
		if local, ok := s.periods[id]; ok {
			next[id] = local
		}
	}
	d.Deleted = removed(schema.EntityPayPeriod, s.periods, next)
	s.periods = next
	s.persist(d)
}

// removed lists the ids of prev missing from next, keyed for a Delta.
func removed[T any](t schema.EntityType, prev, next map[string]*T) map[schema.EntityType][]string {
	var ids []string
	for id := range prev {
		if _, ok := next[id]; !ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	return map[schema.EntityType][]string{t: ids}
}

func (s *Store) fixActiveLocked() {
	if s.activeLocked() != nil {
		return
	}
	s.activeID = ""
	var newest *schema.TimeEntry
	for _, e := range s.entries {
		if !e.IsOpen() {
			continue
		}
		if newest == nil || e.StartTime.After(newest.StartTime) ||
			(e.StartTime.Equal(newest.StartTime) && e.ID > newest.ID) {
			newest = e
		}
	}
	if newest != nil {
		s.activeID = newest.ID
	}
}
