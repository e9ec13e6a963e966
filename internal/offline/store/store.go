// Package store is the local, in-process source of truth for jobs, time
// entries and pay periods.
//
// Every mutation is applied synchronously and is visible to readers as soon
// as the call returns. Each mutation then records one outbox item per changed
// entity, in the order the changes were applied. Unknown ids on update and
// delete are silently ignored (the call returns false); local mutations never
// fail.
package store

import (
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

// Recorder receives one record per applied change. *outbox.Queue implements
// it.
type Recorder interface {
	Enqueue(entityType schema.EntityType, entityID string, op schema.Operation, entity any) schema.SyncQueueItem
}

// Persister saves the rows touched by each mutation.
type Persister interface {
	SaveDelta(d schema.Delta) error
}

// Options configures a Store.
type Options struct {
	// Now is the clock used for created_at, start and stop times.
	Now func() time.Time
	// NewID generates entity ids (default uuid.NewString).
	NewID func() string
	// Persister saves changed rows after each mutation (nil = memory only).
	Persister Persister
	// Logger for store activity (default stderr logger).
	Logger *log.Logger
}

// Store holds the entity collections and the active time entry pointer.
// It is safe for concurrent use; one mutex serializes all mutations so the
// outbox order always matches the apply order.
type Store struct {
	mu       sync.Mutex
	jobs     map[string]*schema.Job
	entries  map[string]*schema.TimeEntry
	periods  map[string]*schema.PayPeriod
	activeID string
	lastSync *time.Time
	// savedActive is the active id last handed to the persister.
	savedActive string

	recorder  Recorder
	persister Persister
	now       func() time.Time
	newID     func() string
	logger    *log.Logger
}

// New creates an empty store that records changes to recorder.
func New(recorder Recorder, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	return &Store{
		jobs:      make(map[string]*schema.Job),
		entries:   make(map[string]*schema.TimeEntry),
		periods:   make(map[string]*schema.PayPeriod),
		recorder:  recorder,
		persister: opts.Persister,
		now:       opts.Now,
		newID:     opts.NewID,
		logger:    opts.Logger,
	}
}

// change is one applied mutation waiting to be recorded.
type change struct {
	entityType schema.EntityType
	id         string
	op         schema.Operation
	entity     any
}

// commit records the changes in order and persists the touched rows.
// Callers must hold s.mu.
func (s *Store) commit(changes []change) {
	if len(changes) == 0 {
		return
	}
	s.record(changes)

	var d schema.Delta
	for _, c := range changes {
		d.Add(c.entityType, c.id, c.entity)
	}
	s.persist(d)
}

// record enqueues one outbox item per change. Callers must hold s.mu.
func (s *Store) record(changes []change) {
	if s.recorder == nil {
		return
	}
	for _, c := range changes {
		s.recorder.Enqueue(c.entityType, c.id, c.op, c.entity)
	}
}

// persist saves d, adding the active pointer when it moved since the last
// save. Failures are logged only. Callers must hold s.mu.
func (s *Store) persist(d schema.Delta) {
	if s.persister == nil {
		return
	}
	if s.activeID != s.savedActive {
		active := s.activeID
		d.ActiveTimeEntryID = &active
	}
	if d.Empty() {
		return
	}
	if err := s.persister.SaveDelta(d); err != nil {
		s.logger.Printf("WARNING: failed to persist store: %v", err)
		return
	}
	s.savedActive = s.activeID
}

// Snapshot returns a deep copy of the store state. Collections are ordered by
// created_at, then id.
func (s *Store) Snapshot() schema.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() schema.Snapshot {
	snap := schema.Snapshot{
		Jobs:              s.jobsLocked(),
		TimeEntries:       s.entriesLocked(),
		PayPeriods:        s.periodsLocked(),
		ActiveTimeEntryID: s.activeID,
	}
	if s.lastSync != nil {
		t := *s.lastSync
		snap.LastSyncTimestamp = &t
	}
	return snap
}

// Restore replaces the whole state without recording outbox items. It is used
// when loading persisted state at startup.
func (s *Store) Restore(snap schema.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = make(map[string]*schema.Job, len(snap.Jobs))
	for _, j := range snap.Jobs {
		c := j.Clone()
		s.jobs[c.ID] = &c
	}
	s.entries = make(map[string]*schema.TimeEntry, len(snap.TimeEntries))
	for _, e := range snap.TimeEntries {
		c := e.Clone()
		s.entries[c.ID] = &c
	}
	s.periods = make(map[string]*schema.PayPeriod, len(snap.PayPeriods))
	for _, p := range snap.PayPeriods {
		c := p.Clone()
		s.periods[c.ID] = &c
	}

	s.activeID = ""
	if e, ok := s.entries[snap.ActiveTimeEntryID]; ok && e.IsOpen() {
		s.activeID = e.ID
	}
	s.savedActive = snap.ActiveTimeEntryID
	s.lastSync = nil
	if snap.LastSyncTimestamp != nil {
		t := *snap.LastSyncTimestamp
		s.lastSync = &t
	}
}

// LastSync returns the time of the last successful reconciliation.
func (s *Store) LastSync() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSync == nil {
		return time.Time{}, false
	}
	return *s.lastSync, true
}

// SetLastSync records a reconciliation timestamp.
func (s *Store) SetLastSync(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = &t
	s.persist(schema.Delta{LastSyncTimestamp: &t})
}

func (s *Store) jobsLocked() []schema.Job {
	out := make([]schema.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(a, b int) bool {
		return less(out[a].CreatedAt, out[a].ID, out[b].CreatedAt, out[b].ID)
	})
	return out
}

func (s *Store) entriesLocked() []schema.TimeEntry {
	out := make([]schema.TimeEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(a, b int) bool {
		return less(out[a].CreatedAt, out[a].ID, out[b].CreatedAt, out[b].ID)
	})
	return out
}

func (s *Store) periodsLocked() []schema.PayPeriod {
	out := make([]schema.PayPeriod, 0, len(s.periods))
	for _, p := range s.periods {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(a, b int) bool {
		return less(out[a].CreatedAt, out[a].ID, out[b].CreatedAt, out[b].ID)
	})
	return out
}

func less(ta time.Time, ida string, tb time.Time, idb string) bool {
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return ida < idb
}
