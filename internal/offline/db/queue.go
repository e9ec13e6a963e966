package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

// The methods in this file implement outbox.Backend.

// AppendQueueItem stores an outbox item at the tail of the queue.
func (db *DB) AppendQueueItem(item schema.SyncQueueItem) error {
	return db.AppendQueueItemContext(context.Background(), item)
}

// AppendQueueItemContext stores an outbox item with context support.
func (db *DB) AppendQueueItemContext(ctx context.Context, item schema.SyncQueueItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid queue item: %w", err)
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sync_queue (id, entity_type, entity_id, operation, payload, enqueued_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, string(item.EntityType), item.EntityID, string(item.Operation),
		string(item.Payload), formatTime(item.EnqueuedAt), item.RetryCount)
	if err != nil {
		return fmt.Errorf("failed to append queue item %s: %w", item.ID, err)
	}
	return nil
}

// DeleteQueueItems removes the given items. Unknown ids are ignored.
func (db *DB) DeleteQueueItems(ids []string) error {
	return db.DeleteQueueItemsContext(context.Background(), ids)
}

// DeleteQueueItemsContext removes the given items with context support.
func (db *DB) DeleteQueueItemsContext(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := "DELETE FROM sync_queue WHERE id IN (" + placeholders(len(ids)) + ")"
	if _, err := db.conn.ExecContext(ctx, query, toArgs(ids)...); err != nil {
		return fmt.Errorf("failed to delete queue items: %w", err)
	}
	return nil
}

// UpdateQueueItemRetries stores new retry counts for the given items.
func (db *DB) UpdateQueueItemRetries(ids []string, retryCount map[string]int) error {
	return db.UpdateQueueItemRetriesContext(context.Background(), ids, retryCount)
}

// UpdateQueueItemRetriesContext stores new retry counts with context support.
func (db *DB) UpdateQueueItemRetriesContext(ctx context.Context, ids []string, retryCount map[string]int) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sync_queue SET retry_count = ? WHERE id = ?`, retryCount[id], id); err != nil {
			return fmt.Errorf("failed to update retry count of %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ClearQueue removes every outbox item.
func (db *DB) ClearQueue() error {
	if _, err := db.conn.Exec("DELETE FROM sync_queue"); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

// LoadQueue returns the persisted outbox in insertion order.
func (db *DB) LoadQueue() ([]schema.SyncQueueItem, error) {
	return db.LoadQueueContext(context.Background())
}

// LoadQueueContext returns the persisted outbox with context support.
func (db *DB) LoadQueueContext(ctx context.Context) ([]schema.SyncQueueItem, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, operation, payload, enqueued_at, retry_count
		FROM sync_queue
		ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue: %w", err)
	}
	defer rows.Close()

	var items []schema.SyncQueueItem
	for rows.Next() {
		var item schema.SyncQueueItem
		var entityType, op, payload, enqueuedAt string
		if err := rows.Scan(&item.ID, &entityType, &item.EntityID, &op,
			&payload, &enqueuedAt, &item.RetryCount); err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		item.EntityType = schema.EntityType(entityType)
		item.Operation = schema.Operation(op)
		item.Payload = []byte(payload)
		if t, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
			item.EnqueuedAt = t
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue: %w", err)
	}
	return items, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
