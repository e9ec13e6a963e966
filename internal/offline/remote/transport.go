// Package remote provides the transports that deliver outbox batches to the
// remote source of truth and fetch full collections back from it.
//
// Three implementations are provided:
//   - HTTPTransport: a JSON-over-HTTP backend authenticated with a bearer token
//   - SQLTransport: a libSQL (Turso) or SQLite database used directly as backend
//   - Memory: an in-process backend with failure injection, used in tests and
//     when no remote is configured
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

// Transport is the batch upsert/delete/fetch-all contract of the backend.
// Every call is atomic per batch: it either applies the whole batch or
// returns an error.
type Transport interface {
	// SyncUpsert creates or replaces the given entities and returns how many
	// were applied.
	SyncUpsert(ctx context.Context, entityType schema.EntityType, payloads []json.RawMessage) (int, error)
	// SyncDelete removes the entities with the given ids. Unknown ids are not
	// an error.
	SyncDelete(ctx context.Context, entityType schema.EntityType, ids []string) (int, error)
	// FetchAll returns every entity of the type owned by userID.
	FetchAll(ctx context.Context, entityType schema.EntityType, userID string) ([]json.RawMessage, error)
}

// Sentinel errors for transport operations.
var (
	// ErrTransport indicates a network or server failure. It is retryable.
	ErrTransport = errors.New("transport failure")

	// ErrUnauthorized indicates the credential was rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRejected indicates the backend refused the batch contents.
	ErrRejected = errors.New("batch rejected")

	// ErrUnknownEntityType indicates an entity type the backend does not know.
	ErrUnknownEntityType = errors.New("unknown entity type")
)

// IsRetryable reports whether a failed call may succeed if repeated.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrRejected) ||
		errors.Is(err, ErrUnknownEntityType) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransport) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// checkType returns ErrUnknownEntityType for types outside the schema.
func checkType(entityType schema.EntityType) error {
	if !entityType.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownEntityType, entityType)
	}
	return nil
}

// record is the minimal view of a payload needed to route it.
type record struct {
	ID string `json:"id"`
}

// decodeID extracts the id of a payload.
func decodeID(payload json.RawMessage) (string, error) {
	var r record
	if err := json.Unmarshal(payload, &r); err != nil {
		return "", fmt.Errorf("%w: invalid payload: %v", ErrRejected, err)
	}
	if r.ID == "" {
		return "", fmt.Errorf("%w: payload without id", ErrRejected)
	}
	return r.ID, nil
}

// validatePayload decodes payload as the entity type and validates it.
func validatePayload(entityType schema.EntityType, payload json.RawMessage) (string, error) {
	var v interface{ Validate() error }
	var id string
	switch entityType {
	case schema.EntityJob:
		var j schema.Job
		if err := json.Unmarshal(payload, &j); err != nil {
			return "", fmt.Errorf("%w: invalid job payload: %v", ErrRejected, err)
		}
		v, id = &j, j.ID
	case schema.EntityTimeEntry:
		var e schema.TimeEntry
		if err := json.Unmarshal(payload, &e); err != nil {
			return "", fmt.Errorf("%w: invalid time entry payload: %v", ErrRejected, err)
		}
		v, id = &e, e.ID
	case schema.EntityPayPeriod:
		var p schema.PayPeriod
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", fmt.Errorf("%w: invalid pay period payload: %v", ErrRejected, err)
		}
		v, id = &p, p.ID
	default:
		return "", checkType(entityType)
	}
	if err := v.Validate(); err != nil {
		return "", fmt.Errorf("%w: %s %s: %v", ErrRejected, entityType, id, err)
	}
	return id, nil
}
