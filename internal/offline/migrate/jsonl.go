// Package migrate moves a local snapshot in and out of portable files.
//
// The JSONL format has one typed record per line:
//
//	{"type":"job","data":{...}}
//	{"type":"time_entry","data":{...}}
//	{"type":"pay_period","data":{...}}
//	{"type":"meta","data":{"active_time_entry_id":"...","last_sync":"..."}}
//
// Jobs are written first so an import can check references in one pass.
// YAML output is for reading only and cannot be imported.
package migrate

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

// RecordMeta is the record type carrying snapshot metadata.
const RecordMeta = "meta"

// Record is one JSONL line.
type Record struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Meta is the data of a meta record.
type Meta struct {
	ActiveTimeEntryID string     `json:"active_time_entry_id,omitempty"`
	LastSync          *time.Time `json:"last_sync,omitempty"`
}

// ImportOptions controls how invalid records are handled.
type ImportOptions struct {
	// SkipInvalid drops bad records instead of failing the import.
	SkipInvalid bool
}

// ImportResult contains statistics about an import.
type ImportResult struct {
	Jobs        int
	TimeEntries int
	PayPeriods  int
	Skipped     int
	Errors      []string
}

// ErrInvalidRecord marks a record that failed decoding or validation.
var ErrInvalidRecord = errors.New("invalid record")

// WriteJSONL writes snap to w.
func WriteJSONL(w io.Writer, snap schema.Snapshot) error {
	enc := json.NewEncoder(w)
	write := func(typ string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", typ, err)
		}
		if err := enc.Encode(Record{Type: typ, Data: data}); err != nil {
			return fmt.Errorf("failed to write %s: %w", typ, err)
		}
		return nil
	}

	for _, j := range snap.Jobs {
		if err := write(string(schema.EntityJob), j); err != nil {
			return err
		}
	}
	for _, e := range snap.TimeEntries {
		if err := write(string(schema.EntityTimeEntry), e); err != nil {
			return err
		}
	}
	for _, p := range snap.PayPeriods {
		if err := write(string(schema.EntityPayPeriod), p); err != nil {
			return err
		}
	}
	if snap.ActiveTimeEntryID != "" || snap.LastSyncTimestamp != nil {
		return write(RecordMeta, Meta{
			ActiveTimeEntryID: snap.ActiveTimeEntryID,
			LastSync:          snap.LastSyncTimestamp,
		})
	}
	return nil
}

// ExportJSONL writes snap to path atomically via a temp file.
func ExportJSONL(path string, snap schema.Snapshot) error {
	return writeAtomic(path, func(w io.Writer) error { return WriteJSONL(w, snap) })
}

// ReadJSONL parses and validates a snapshot from r. Entities must pass
// Validate and reference jobs and entries defined earlier in the stream.
func ReadJSONL(r io.Reader, opts ImportOptions) (schema.Snapshot, *ImportResult, error) {
	var snap schema.Snapshot
	result := &ImportResult{}
	jobs := make(map[string]bool)
	entries := make(map[string]bool)
	periods := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		err := decodeRecord(line, &snap, jobs, entries, periods)
		if err == nil {
			continue
		}
		err = fmt.Errorf("line %d: %w", lineNum, err)
		if !opts.SkipInvalid {
			return schema.Snapshot{}, nil, err
		}
		result.Skipped++
		result.Errors = append(result.Errors, err.Error())
	}
	if err := scanner.Err(); err != nil {
		return schema.Snapshot{}, nil, fmt.Errorf("failed to read JSONL: %w", err)
	}

	if snap.ActiveTimeEntryID != "" && !entries[snap.ActiveTimeEntryID] {
		snap.ActiveTimeEntryID = ""
	}
	result.Jobs = len(snap.Jobs)
	result.TimeEntries = len(snap.TimeEntries)
	result.PayPeriods = len(snap.PayPeriods)
	return snap, result, nil
}

func decodeRecord(line []byte, snap *schema.Snapshot, jobs, entries, periods map[string]bool) error {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	switch rec.Type {
	case string(schema.EntityJob):
		var j schema.Job
		if err := decodeValid(rec.Data, &j, j.Validate); err != nil {
			return err
		}
		if jobs[j.ID] {
			return fmt.Errorf("%w: duplicate job %s", ErrInvalidRecord, j.ID)
		}
		jobs[j.ID] = true
		snap.Jobs = append(snap.Jobs, j)

	case string(schema.EntityTimeEntry):
		var e schema.TimeEntry
		if err := decodeValid(rec.Data, &e, e.Validate); err != nil {
			return err
		}
		if entries[e.ID] {
			return fmt.Errorf("%w: duplicate time entry %s", ErrInvalidRecord, e.ID)
		}
		if !jobs[e.JobID] {
			return fmt.Errorf("%w: time entry %s references unknown job %s", ErrInvalidRecord, e.ID, e.JobID)
		}
		entries[e.ID] = true
		snap.TimeEntries = append(snap.TimeEntries, e)

	case string(schema.EntityPayPeriod):
		var p schema.PayPeriod
		if err := decodeValid(rec.Data, &p, p.Validate); err != nil {
			return err
		}
		if periods[p.ID] {
			return fmt.Errorf("%w: duplicate pay period %s", ErrInvalidRecord, p.ID)
		}
		if !jobs[p.JobID] {
			return fmt.Errorf("%w: pay period %s references unknown job %s", ErrInvalidRecord, p.ID, p.JobID)
		}
		periods[p.ID] = true
		snap.PayPeriods = append(snap.PayPeriods, p)

	case RecordMeta:
		var m Meta
		if err := json.Unmarshal(rec.Data, &m); err != nil {
			return fmt.Errorf("%w: meta: %v", ErrInvalidRecord, err)
		}
		snap.ActiveTimeEntryID = m.ActiveTimeEntryID
		snap.LastSyncTimestamp = m.LastSync

	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRecord, rec.Type)
	}
	return nil
}

// decodeValid unmarshals data into v, then runs validate. validate is a
// method value bound to v, so it sees the decoded fields.
func decodeValid(data json.RawMessage, v any, validate func() error) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if err := validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

// ImportJSONL reads a snapshot from path.
func ImportJSONL(path string, opts ImportOptions) (schema.Snapshot, *ImportResult, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return schema.Snapshot{}, nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer f.Close()
	return ReadJSONL(f, opts)
}

// writeAtomic writes through a temp file in the target directory and renames
// it into place.
func writeAtomic(path string, fill func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	w := bufio.NewWriter(f)
	err = fill(w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
