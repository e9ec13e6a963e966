package remote

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

// Call ops recorded by Memory.
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
	OpFetch  = "fetch"
)

// Call records one transport call made against a Memory backend.
type Call struct {
	Op         string
	EntityType schema.EntityType
	IDs        []string
}

// FailFunc decides whether a call fails. Returning nil lets it through.
type FailFunc func(op string, entityType schema.EntityType) error

// Memory is an in-process backend. It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	records map[schema.EntityType]map[string]json.RawMessage
	calls   []Call
	fail    FailFunc
}

// NewMemory creates an empty backend.
func NewMemory() *Memory {
	return &Memory{records: make(map[schema.EntityType]map[string]json.RawMessage)}
}

// SetFailure installs a failure hook; nil clears it.
func (m *Memory) SetFailure(fn FailFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fn
}

// FailWith makes every call for entityType and op fail with err. An empty op
// matches all ops.
func (m *Memory) FailWith(op string, entityType schema.EntityType, err error) {
	m.SetFailure(func(gotOp string, gotType schema.EntityType) error {
		if gotType == entityType && (op == "" || op == gotOp) {
			return err
		}
		return nil
	})
}

// Seed stores records directly, bypassing validation and call recording.
func (m *Memory) Seed(entityType schema.EntityType, entities ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entities {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		id, err := decodeID(data)
		if err != nil {
			return err
		}
		m.bucket(entityType)[id] = data
	}
	return nil
}

// Record returns the stored payload for an entity.
func (m *Memory) Record(entityType schema.EntityType, id string) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.records[entityType][id]
	return data, ok
}

// Len returns the number of stored records of the type.
func (m *Memory) Len(entityType schema.EntityType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[entityType])
}

// Calls returns the calls made so far.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// SyncUpsert implements Transport.
func (m *Memory) SyncUpsert(ctx context.Context, entityType schema.EntityType, payloads []json.RawMessage) (int, error) {
	ids := make([]string, len(payloads))
	for i, p := range payloads {
		id, err := decodeID(p)
		if err != nil {
			return 0, err
		}
		ids[i] = id
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: OpUpsert, EntityType: entityType, IDs: ids})
	if err := m.check(ctx, OpUpsert, entityType); err != nil {
		return 0, err
	}
	b := m.bucket(entityType)
	for i, p := range payloads {
		b[ids[i]] = append(json.RawMessage(nil), p...)
	}
	return len(payloads), nil
}

// SyncDelete implements Transport.
func (m *Memory) SyncDelete(ctx context.Context, entityType schema.EntityType, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: OpDelete, EntityType: entityType, IDs: append([]string(nil), ids...)})
	if err := m.check(ctx, OpDelete, entityType); err != nil {
		return 0, err
	}
	n := 0
	b := m.bucket(entityType)
	for _, id := range ids {
		if _, ok := b[id]; ok {
			delete(b, id)
			n++
		}
	}
	return n, nil
}

// FetchAll implements Transport. Records are returned ordered by id.
func (m *Memory) FetchAll(ctx context.Context, entityType schema.EntityType, userID string) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: OpFetch, EntityType: entityType})
	if err := m.check(ctx, OpFetch, entityType); err != nil {
		return nil, err
	}
	b := m.records[entityType]
	ids := make([]string, 0, len(b))
	for id := range b {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, append(json.RawMessage(nil), b[id]...))
	}
	return out, nil
}

func (m *Memory) check(ctx context.Context, op string, entityType schema.EntityType) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkType(entityType); err != nil {
		return err
	}
	if m.fail != nil {
		return m.fail(op, entityType)
	}
	return nil
}

func (m *Memory) bucket(entityType schema.EntityType) map[string]json.RawMessage {
	b, ok := m.records[entityType]
	if !ok {
		b = make(map[string]json.RawMessage)
		m.records[entityType] = b
	}
	return b
}
