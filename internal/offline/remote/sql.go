package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

// SQLTransport uses a SQL database as the remote source of truth. In
// production this is a libSQL (Turso) database opened with OpenLibSQL; any
// SQLite-compatible *sql.DB works.
//
// Records are stored as JSON documents keyed by (entity_type, id) and owned
// by the user the transport was created for.
type SQLTransport struct {
	db     *sql.DB
	userID string
	now    func() time.Time
}

// OpenLibSQL opens a remote libSQL database. A non-empty token is passed as
// the authToken query parameter.
//
// Example:
//
//	conn, err := remote.OpenLibSQL("libsql://jobtrack-me.turso.io", token)
func OpenLibSQL(dbURL, token string) (*sql.DB, error) {
	dsn := dbURL
	if token != "" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "authToken=" + url.QueryEscape(token)
	}

	conn, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql database: %w", err)
	}
	return conn, nil
}

// NewSQLTransport creates a transport over conn for userID.
func NewSQLTransport(conn *sql.DB, userID string) *SQLTransport {
	return &SQLTransport{db: conn, userID: userID, now: time.Now}
}

// InitSchema creates the records table if it doesn't exist.
func (t *SQLTransport) InitSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS sync_records (
		entity_type TEXT NOT NULL,
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		data TEXT NOT NULL,  -- JSON document
		updated_at TEXT NOT NULL,
		PRIMARY KEY (entity_type, id)
	);
	CREATE INDEX IF NOT EXISTS idx_sync_records_user ON sync_records(user_id, entity_type);
	`
	if _, err := t.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize remote schema: %w", err)
	}
	return nil
}

// SyncUpsert implements Transport. Every payload is validated first; one
// invalid payload rejects the whole batch, as does an id already stored for
// another user.
func (t *SQLTransport) SyncUpsert(ctx context.Context, entityType schema.EntityType, payloads []json.RawMessage) (int, error) {
	if err := checkType(entityType); err != nil {
		return 0, err
	}

	ids := make([]string, len(payloads))
	for i, p := range payloads {
		id, err := validatePayload(entityType, p)
		if err != nil {
			return 0, err
		}
		ids[i] = id
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to begin transaction: %v", ErrTransport, err)
	}
	defer tx.Rollback()

	updatedAt := t.now().UTC().Format(time.RFC3339Nano)
	for i, p := range payloads {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sync_records (entity_type, id, user_id, data, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(entity_type, id) DO UPDATE SET
				data = excluded.data,
				updated_at = excluded.updated_at
			WHERE sync_records.user_id = excluded.user_id`,
			string(entityType), ids[i], t.userID, string(p), updatedAt)
		if err != nil {
			return 0, fmt.Errorf("%w: failed to upsert %s %s: %v", ErrTransport, entityType, ids[i], err)
		}
		// No row is touched when the id belongs to another user.
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return 0, fmt.Errorf("%w: %s %s is owned by another user", ErrRejected, entityType, ids[i])
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: failed to commit: %v", ErrTransport, err)
	}
	return len(payloads), nil
}

// SyncDelete implements Transport.
func (t *SQLTransport) SyncDelete(ctx context.Context, entityType schema.EntityType, ids []string) (int, error) {
	if err := checkType(entityType); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(ids)+2)
	args = append(args, string(entityType), t.userID)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `DELETE FROM sync_records WHERE entity_type = ? AND user_id = ? AND id IN (` +
		strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + `)`

	res, err := t.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to delete %s: %v", ErrTransport, entityType, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return len(ids), nil
	}
	return int(n), nil
}

// FetchAll implements Transport.
func (t *SQLTransport) FetchAll(ctx context.Context, entityType schema.EntityType, userID string) ([]json.RawMessage, error) {
	if err := checkType(entityType); err != nil {
		return nil, err
	}

	rows, err := t.db.QueryContext(ctx, `
		SELECT data FROM sync_records
		WHERE entity_type = ? AND user_id = ?
		ORDER BY id ASC`, string(entityType), userID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query %s: %v", ErrTransport, entityType, err)
	}
	defer rows.Close()

	records := []json.RawMessage{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("%w: failed to scan %s: %v", ErrTransport, entityType, err)
		}
		records = append(records, json.RawMessage(data))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating %s: %v", ErrTransport, entityType, err)
	}
	return records, nil
}
