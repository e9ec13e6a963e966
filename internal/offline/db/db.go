// Package db persists the local entity store and the outbox in an embedded
// SQLite database.
//
// Architecture:
//   - Database file: <data_dir>/jobtrack.db
//   - WAL mode: the daemon and short-lived CLI processes share the file
//   - Schema: jobs, time_entries, pay_periods, meta, sync_queue
//
// Entities are stored as JSON documents next to a few indexed key columns,
// so the schema package stays the single definition of the entity shape.
// The outbox is stored row-per-item in insertion order.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

// Meta keys.
const (
	metaActiveEntry = "active_time_entry_id"
	metaLastSync    = "last_sync"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened in WAL mode with a busy timeout so several
// processes can use it at once. The caller MUST call Close() when done.
//
// Example:
//
//	db, err := db.Open(filepath.Join(dataDir, "jobtrack.db"))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := db.conn.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the tables if they don't exist. It is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the tables with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		data TEXT NOT NULL,  -- JSON document
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS time_entries (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT,
		paid_in_period_id TEXT,
		data TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pay_periods (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		is_paid INTEGER NOT NULL DEFAULT 0,
		data TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- Outbox, ordered by seq
	CREATE TABLE IF NOT EXISTS sync_queue (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		payload TEXT NOT NULL,
		enqueued_at TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_time_entries_job ON time_entries(job_id);
	CREATE INDEX IF NOT EXISTS idx_time_entries_open ON time_entries(end_time) WHERE end_time IS NULL;
	CREATE INDEX IF NOT EXISTS idx_pay_periods_job ON pay_periods(job_id);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_entity ON sync_queue(entity_type, entity_id);
	`

	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// SaveSnapshot replaces the persisted entity state with snap in a single
// transaction. It is used by imports, which own the whole database.
func (db *DB) SaveSnapshot(snap schema.Snapshot) error {
	return db.SaveSnapshotContext(context.Background(), snap)
}

// SaveSnapshotContext replaces the persisted entity state with context support.
func (db *DB) SaveSnapshotContext(ctx context.Context, snap schema.Snapshot) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"jobs", "time_entries", "pay_periods"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	active := snap.ActiveTimeEntryID
	if err := writeRows(ctx, tx, schema.Delta{
		Jobs:              snap.Jobs,
		TimeEntries:       snap.TimeEntries,
		PayPeriods:        snap.PayPeriods,
		ActiveTimeEntryID: &active,
	}); err != nil {
		return err
	}
	lastSync := ""
	if snap.LastSyncTimestamp != nil {
		lastSync = formatTime(*snap.LastSyncTimestamp)
	}
	if err := setMeta(ctx, tx, metaLastSync, lastSync); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SaveDelta writes the rows named in d in a single transaction and leaves
// every other row alone. It satisfies store.Persister.
func (db *DB) SaveDelta(d schema.Delta) error {
	return db.SaveDeltaContext(context.Background(), d)
}

// SaveDeltaContext writes d with context support.
func (db *DB) SaveDeltaContext(ctx context.Context, d schema.Delta) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := writeRows(ctx, tx, d); err != nil {
		return err
	}
	if d.LastSyncTimestamp != nil {
		if err := setMeta(ctx, tx, metaLastSync, formatTime(*d.LastSyncTimestamp)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// entityTables maps entity types to their tables.
var entityTables = map[schema.EntityType]string{
	schema.EntityJob:       "jobs",
	schema.EntityTimeEntry: "time_entries",
	schema.EntityPayPeriod: "pay_periods",
}

// writeRows upserts the entities of d, then removes its deleted ids and sets
// the active entry when present.
func writeRows(ctx context.Context, tx *sql.Tx, d schema.Delta) error {
	for i := range d.Jobs {
		j := &d.Jobs[i]
		data, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("failed to marshal job %s: %w", j.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO jobs (id, title, data, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title, data = excluded.data, created_at = excluded.created_at`,
			j.ID, j.Title, string(data), formatTime(j.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to upsert job %s: %w", j.ID, err)
		}
	}

	for i := range d.TimeEntries {
		e := &d.TimeEntries[i]
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal time entry %s: %w", e.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO time_entries (id, job_id, start_time, end_time, paid_in_period_id, data, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				job_id = excluded.job_id, start_time = excluded.start_time,
				end_time = excluded.end_time, paid_in_period_id = excluded.paid_in_period_id,
				data = excluded.data, created_at = excluded.created_at`,
			e.ID, e.JobID, formatTime(e.StartTime), timeToNullString(e.EndTime),
			stringToNull(e.PaidInPeriodID), string(data), formatTime(e.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to upsert time entry %s: %w", e.ID, err)
		}
	}

	for i := range d.PayPeriods {
		p := &d.PayPeriods[i]
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal pay period %s: %w", p.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pay_periods (id, job_id, is_paid, data, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				job_id = excluded.job_id, is_paid = excluded.is_paid,
				data = excluded.data, created_at = excluded.created_at`,
			p.ID, p.JobID, p.IsPaid, string(data), formatTime(p.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to upsert pay period %s: %w", p.ID, err)
		}
	}

	for t, ids := range d.Deleted {
		table, ok := entityTables[t]
		if !ok {
			return fmt.Errorf("unknown entity type %q", t)
		}
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id); err != nil {
				return fmt.Errorf("failed to delete %s %s: %w", t, id, err)
			}
		}
	}

	if d.ActiveTimeEntryID != nil {
		if err := setMeta(ctx, tx, metaActiveEntry, *d.ActiveTimeEntryID); err != nil {
			return err
		}
	}
	return nil
}

func setMeta(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}
	return nil
}

// LoadSnapshot reads the persisted entity state. An empty database yields an
// empty snapshot.
func (db *DB) LoadSnapshot() (schema.Snapshot, error) {
	return db.LoadSnapshotContext(context.Background())
}

// LoadSnapshotContext reads the persisted entity state with context support.
func (db *DB) LoadSnapshotContext(ctx context.Context) (schema.Snapshot, error) {
	var snap schema.Snapshot

	if err := loadDocs(ctx, db.conn, "jobs", &snap.Jobs); err != nil {
		return snap, err
	}
	if err := loadDocs(ctx, db.conn, "time_entries", &snap.TimeEntries); err != nil {
		return snap, err
	}
	if err := loadDocs(ctx, db.conn, "pay_periods", &snap.PayPeriods); err != nil {
		return snap, err
	}

	meta, err := db.meta(ctx)
	if err != nil {
		return snap, err
	}
	snap.ActiveTimeEntryID = meta[metaActiveEntry]
	if v := meta[metaLastSync]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return snap, fmt.Errorf("failed to parse last sync %q: %w", v, err)
		}
		snap.LastSyncTimestamp = &t
	}
	return snap, nil
}

// loadDocs decodes the data column of table into out, ordered by created_at.
func loadDocs[T any](ctx context.Context, conn *sql.DB, table string, out *[]T) error {
	rows, err := conn.QueryContext(ctx, "SELECT data FROM "+table+" ORDER BY created_at ASC, id ASC")
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return fmt.Errorf("failed to unmarshal %s row: %w", table, err)
		}
		*out = append(*out, v)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating %s: %w", table, err)
	}
	return nil
}

func (db *DB) meta(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT key, value FROM meta")
	if err != nil {
		return nil, fmt.Errorf("failed to query meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan meta: %w", err)
		}
		meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating meta: %w", err)
	}
	return meta, nil
}

// Counts summarizes what is stored, for status output.
type Counts struct {
	Jobs        int
	TimeEntries int
	PayPeriods  int
	Queued      int
}

// GetCounts returns row counts for every table.
func (db *DB) GetCounts() (Counts, error) {
	return db.GetCountsContext(context.Background())
}

// GetCountsContext returns row counts with context support.
func (db *DB) GetCountsContext(ctx context.Context) (Counts, error) {
	var c Counts
	targets := []struct {
		table string
		dst   *int
	}{
		{"jobs", &c.Jobs},
		{"time_entries", &c.TimeEntries},
		{"pay_periods", &c.PayPeriods},
		{"sync_queue", &c.Queued},
	}
	for _, tgt := range targets {
		if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tgt.table).Scan(tgt.dst); err != nil {
			return c, fmt.Errorf("failed to count %s: %w", tgt.table, err)
		}
	}
	return c, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func stringToNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
