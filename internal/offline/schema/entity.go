package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityType identifies which collection an outbox record or remote call
// refers to.
type EntityType string

const (
	// EntityJob is the jobs collection.
	EntityJob EntityType = "job"
	// EntityTimeEntry is the time entries collection.
	EntityTimeEntry EntityType = "time_entry"
	// EntityPayPeriod is the pay periods collection.
	EntityPayPeriod EntityType = "pay_period"
)

// EntityTypes lists every synchronized entity type in dependency order
// (parents before children).
var EntityTypes = []EntityType{EntityJob, EntityTimeEntry, EntityPayPeriod}

// IsValid reports whether t is one of the known entity types.
func (t EntityType) IsValid() bool {
	switch t {
	case EntityJob, EntityTimeEntry, EntityPayPeriod:
		return true
	default:
		return false
	}
}

// ParseEntityType converts a string to an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return t, nil
}

// Operation is the kind of local mutation recorded in the outbox.
type Operation string

const (
	// OpCreate records a newly created entity.
	OpCreate Operation = "create"
	// OpUpdate records a changed entity.
	OpUpdate Operation = "update"
	// OpDelete records a removed entity.
	OpDelete Operation = "delete"
)

// IsValid reports whether op is a known operation.
func (op Operation) IsValid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

// Class collapses create and update into ClassUpsert. Delete stays separate.
func (op Operation) Class() OperationClass {
	if op == OpDelete {
		return ClassDelete
	}
	return ClassUpsert
}

// OperationClass groups operations that share one remote batch call.
type OperationClass string

const (
	// ClassUpsert covers create and update.
	ClassUpsert OperationClass = "upsert"
	// ClassDelete covers delete.
	ClassDelete OperationClass = "delete"
)

// MaxRetries is the retry ceiling. An outbox item whose batch has failed this
// many times is dropped.
const MaxRetries = 3

// SyncQueueItem is one pending mutation in the outbox.
type SyncQueueItem struct {
	ID         string          `json:"id"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Operation  Operation       `json:"operation"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
}

// Validate checks that the item can be delivered.
func (i *SyncQueueItem) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !i.EntityType.IsValid() {
		return fmt.Errorf("invalid entity type: %q", i.EntityType)
	}
	if i.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if !i.Operation.IsValid() {
		return fmt.Errorf("invalid operation: %q", i.Operation)
	}
	if i.RetryCount < 0 {
		return fmt.Errorf("retry_count must not be negative (got %d)", i.RetryCount)
	}
	return nil
}

// Exhausted reports whether the item has reached the given retry ceiling.
func (i *SyncQueueItem) Exhausted(max int) bool {
	return i.RetryCount >= max
}

// Snapshot is the persisted form of the local store.
type Snapshot struct {
	Jobs              []Job       `json:"jobs"`
	TimeEntries       []TimeEntry `json:"time_entries"`
	PayPeriods        []PayPeriod `json:"pay_periods"`
	ActiveTimeEntryID string      `json:"active_time_entry_id,omitempty"`
	LastSyncTimestamp *time.Time  `json:"last_sync_timestamp,omitempty"`
}

// Delta is a row-level change to persisted state. Rows not named in it are
// left alone, so writers holding different views of the data do not erase
// each other's rows.
type Delta struct {
	Jobs        []Job
	TimeEntries []TimeEntry
	PayPeriods  []PayPeriod
	// Deleted lists removed entity ids per type.
	Deleted map[EntityType][]string
	// ActiveTimeEntryID is written only when set; an empty string clears it.
	ActiveTimeEntryID *string
	// LastSyncTimestamp is written only when set.
	LastSyncTimestamp *time.Time
}

// Add records the post-change state of one entity. A nil entity marks it
// deleted.
func (d *Delta) Add(entityType EntityType, id string, entity any) {
	switch v := entity.(type) {
	case Job:
		d.Jobs = append(d.Jobs, v)
	case TimeEntry:
		d.TimeEntries = append(d.TimeEntries, v)
	case PayPeriod:
		d.PayPeriods = append(d.PayPeriods, v)
	default:
		if d.Deleted == nil {
			d.Deleted = make(map[EntityType][]string)
		}
		d.Deleted[entityType] = append(d.Deleted[entityType], id)
	}
}

// Empty reports whether the delta changes nothing.
func (d *Delta) Empty() bool {
	return len(d.Jobs) == 0 && len(d.TimeEntries) == 0 && len(d.PayPeriods) == 0 &&
		len(d.Deleted) == 0 && d.ActiveTimeEntryID == nil && d.LastSyncTimestamp == nil
}

// EntityCounts returns the size of each collection keyed by entity type.
func (s *Snapshot) EntityCounts() map[EntityType]int {
	return map[EntityType]int{
		EntityJob:       len(s.Jobs),
		EntityTimeEntry: len(s.TimeEntries),
		EntityPayPeriod: len(s.PayPeriods),
	}
}

// cloneTime copies an optional timestamp so the clone never aliases the
// original.
func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// cloneStrings copies a string slice, preserving nil.
func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
