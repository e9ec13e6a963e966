package session

import (
	"fmt"

	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

// Export returns the current local state.
func (s *Session) Export() schema.Snapshot {
	return s.store.Snapshot()
}

// Import replaces local state with snap and saves it. With push, every
// imported entity is also queued as a create so the next drain uploads it.
// Already queued items are kept.
func (s *Session) Import(snap schema.Snapshot, push bool) (queued int, err error) {
	s.store.Restore(snap)
	if err := s.db.SaveSnapshot(s.store.Snapshot()); err != nil {
		return 0, fmt.Errorf("failed to save imported snapshot: %w", err)
	}
	if !push {
		return 0, nil
	}

	for _, j := range snap.Jobs {
		s.queue.Enqueue(schema.EntityJob, j.ID, schema.OpCreate, j)
		queued++
	}
	for _, e := range snap.TimeEntries {
		s.queue.Enqueue(schema.EntityTimeEntry, e.ID, schema.OpCreate, e)
		queued++
	}
	for _, p := range snap.PayPeriods {
		s.queue.Enqueue(schema.EntityPayPeriod, p.ID, schema.OpCreate, p)
		queued++
	}
	s.log.Printf("Imported snapshot, queued %d creates", queued)
	return queued, nil
}

// Reload re-reads the snapshot and the persisted outbox from the database,
// picking up changes written by other jt processes.
func (s *Session) Reload() error {
	snap, err := s.db.LoadSnapshot()
	if err != nil {
		return err
	}
	s.store.Restore(snap)
	if !s.cfg.Sync.PersistOutbox {
		return nil
	}
	items, err := s.db.LoadQueue()
	if err != nil {
		return err
	}
	s.queue.Restore(items)
	return nil
}
