// Package outbox implements the ordered log of local mutations that have not
// yet been confirmed by the remote backend.
//
// The queue is append-only and keeps insertion order. It does not de-duplicate:
// three updates to the same entity produce three items. Consumers remove items
// by item id once the backend has acknowledged them, so items appended while a
// drain is running are never lost.
package outbox

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

// Backend mirrors queue changes to durable storage.
//
// Backend errors are logged and never returned to the caller of Enqueue:
// the in-memory queue remains the source of truth for the running process.
type Backend interface {
	AppendQueueItem(item schema.SyncQueueItem) error
	DeleteQueueItems(ids []string) error
	UpdateQueueItemRetries(ids []string, retryCount map[string]int) error
	ClearQueue() error
}

// Options configures a Queue.
type Options struct {
	// Backend persists queue changes (nil = memory only).
	Backend Backend
	// Now returns the enqueue timestamp (default time.Now).
	Now func() time.Time
	// NewID generates item ids (default uuid.NewString).
	NewID func() string
	// Logger for queue activity (default stderr logger).
	Logger *log.Logger
	// OnChange is called with the new length after every change.
	OnChange func(length int)
}

// Queue is the outbox. It is safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []schema.SyncQueueItem

	backend  Backend
	now      func() time.Time
	newID    func() string
	logger   *log.Logger
	onChange func(int)
}

// New creates an empty queue.
func New(opts Options) *Queue {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[outbox] ", log.LstdFlags)
	}
	return &Queue{
		backend:  opts.Backend,
		now:      opts.Now,
		newID:    opts.NewID,
		logger:   opts.Logger,
		onChange: opts.OnChange,
	}
}

// Enqueue appends a mutation record. The entity is serialized immediately,
// so later changes to it do not affect the queued payload.
//
// For deletes the entity may be nil; the payload then only carries the id.
func (q *Queue) Enqueue(entityType schema.EntityType, entityID string, op schema.Operation, entity any) schema.SyncQueueItem {
	payload, err := encodePayload(entityID, op, entity)
	if err != nil {
		// Entities are plain structs, so this only happens on programmer error.
		q.logger.Printf("WARNING: failed to encode %s %s payload: %v", entityType, entityID, err)
		payload = json.RawMessage(fmt.Sprintf(`{"id":%q}`, entityID))
	}

	item := schema.SyncQueueItem{
		ID:         q.newID(),
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  op,
		Payload:    payload,
		EnqueuedAt: q.now(),
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	n := len(q.items)
	if q.backend != nil {
		if err := q.backend.AppendQueueItem(item); err != nil {
			q.logger.Printf("WARNING: failed to persist queue item %s: %v", item.ID, err)
		}
	}
	q.mu.Unlock()

	q.changed(n)
	return item
}

func encodePayload(entityID string, op schema.Operation, entity any) (json.RawMessage, error) {
	if entity == nil {
		if op != schema.OpDelete {
			return nil, fmt.Errorf("%s requires an entity", op)
		}
		return json.Marshal(struct {
			ID string `json:"id"`
		}{ID: entityID})
	}
	return json.Marshal(entity)
}

// Items returns a copy of the queued items in insertion order.
func (q *Queue) Items() []schema.SyncQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]schema.SyncQueueItem, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending reports whether any item for the given entity is still queued.
func (q *Queue) Pending(entityType schema.EntityType, entityID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, it := range q.items {
		if it.EntityType == entityType && it.EntityID == entityID {
			return true
		}
	}
	return false
}

// PendingIDs returns the set of entity ids of the given type that still have
// queued items.
func (q *Queue) PendingIDs(entityType schema.EntityType) map[string]bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make(map[string]bool)
	for _, it := range q.items {
		if it.EntityType == entityType {
			ids[it.EntityID] = true
		}
	}
	return ids
}

// Remove deletes the items with the given ids and returns how many were
// found. Unknown ids are ignored.
func (q *Queue) Remove(ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	set := toSet(ids)

	q.mu.Lock()
	kept := q.items[:0]
	removed := make([]string, 0, len(ids))
	for _, it := range q.items {
		if set[it.ID] {
			removed = append(removed, it.ID)
			continue
		}
		kept = append(kept, it)
	}
	q.items = kept
	n := len(q.items)
	if q.backend != nil && len(removed) > 0 {
		if err := q.backend.DeleteQueueItems(removed); err != nil {
			q.logger.Printf("WARNING: failed to delete persisted queue items: %v", err)
		}
	}
	q.mu.Unlock()

	if len(removed) > 0 {
		q.changed(n)
	}
	return len(removed)
}

// MarkFailed increments the retry count of the given items. Items whose
// count reaches max are removed and returned.
func (q *Queue) MarkFailed(ids []string, max int) []schema.SyncQueueItem {
	if len(ids) == 0 {
		return nil
	}
	set := toSet(ids)

	q.mu.Lock()
	var dropped []schema.SyncQueueItem
	var droppedIDs, retriedIDs []string
	retries := make(map[string]int)

	kept := q.items[:0]
	for _, it := range q.items {
		if set[it.ID] {
			it.RetryCount++
			if it.Exhausted(max) {
				dropped = append(dropped, it)
				droppedIDs = append(droppedIDs, it.ID)
				continue
			}
			retriedIDs = append(retriedIDs, it.ID)
			retries[it.ID] = it.RetryCount
		}
		kept = append(kept, it)
	}
	q.items = kept
	n := len(q.items)

	if q.backend != nil {
		if len(retriedIDs) > 0 {
			if err := q.backend.UpdateQueueItemRetries(retriedIDs, retries); err != nil {
				q.logger.Printf("WARNING: failed to persist retry counts: %v", err)
			}
		}
		if len(droppedIDs) > 0 {
			if err := q.backend.DeleteQueueItems(droppedIDs); err != nil {
				q.logger.Printf("WARNING: failed to delete dropped queue items: %v", err)
			}
		}
	}
	q.mu.Unlock()

	q.changed(n)
	return dropped
}

// Clear removes every item.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	if q.backend != nil {
		if err := q.backend.ClearQueue(); err != nil {
			q.logger.Printf("WARNING: failed to clear persisted queue: %v", err)
		}
	}
	q.mu.Unlock()

	q.changed(0)
}

// Restore replaces the in-memory items with previously persisted ones. The
// backend is not written to.
func (q *Queue) Restore(items []schema.SyncQueueItem) {
	q.mu.Lock()
	q.items = make([]schema.SyncQueueItem, len(items))
	copy(q.items, items)
	n := len(q.items)
	q.mu.Unlock()

	q.changed(n)
}

func (q *Queue) changed(n int) {
	if q.onChange != nil {
		q.onChange(n)
	}
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
