package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

var t0 = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func jobPayload(t *testing.T, id, title string) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(schema.Job{ID: id, Title: title, HourlyRate: 20, CreatedAt: t0})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", fmt.Errorf("upsert: %w", ErrTransport), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"unauthorized", fmt.Errorf("x: %w", ErrUnauthorized), false},
		{"rejected", ErrRejected, false},
		{"unknown type", ErrUnknownEntityType, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestHTTPTransport(t *testing.T) {
	var gotAuth []string
	var upserted []json.RawMessage

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync/job/upsert", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		var req upsertRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		upserted = append(upserted, req.Records...)
		_ = json.NewEncoder(w).Encode(appliedResponse{Applied: len(req.Records)})
	})
	mux.HandleFunc("POST /sync/time_entry/delete", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	})
	mux.HandleFunc("GET /sync/job", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user_id") != "u1" {
			http.Error(w, "wrong user", http.StatusForbidden)
			return
		}
		_ = json.NewEncoder(w).Encode(fetchResponse{Records: upserted})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	tr := NewHTTPTransport(ctx, srv.URL+"/", "secret")

	n, err := tr.SyncUpsert(ctx, schema.EntityJob, []json.RawMessage{
		jobPayload(t, "j1", "Cafe"), jobPayload(t, "j2", "Bakery"),
	})
	if err != nil || n != 2 {
		t.Fatalf("SyncUpsert() = %d, %v", n, err)
	}
	if len(gotAuth) != 1 || gotAuth[0] != "Bearer secret" {
		t.Errorf("Authorization = %v, want Bearer secret", gotAuth)
	}

	records, err := tr.FetchAll(ctx, schema.EntityJob, "u1")
	if err != nil || len(records) != 2 {
		t.Fatalf("FetchAll() = %d records, %v", len(records), err)
	}

	if _, err := tr.FetchAll(ctx, schema.EntityJob, "u2"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("FetchAll(u2) error = %v, want ErrUnauthorized", err)
	}

	_, err = tr.SyncDelete(ctx, schema.EntityTimeEntry, []string{"e1"})
	if !errors.Is(err, ErrTransport) || !IsRetryable(err) {
		t.Errorf("SyncDelete() error = %v, want retryable ErrTransport", err)
	}

	if _, err := tr.SyncDelete(ctx, "invoice", []string{"x"}); !errors.Is(err, ErrUnknownEntityType) {
		t.Errorf("unknown type error = %v", err)
	}
}

func TestHTTPTransport_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr := NewHTTPTransport(context.Background(), url, "")
	_, err := tr.FetchAll(context.Background(), schema.EntityJob, "u1")
	if !IsRetryable(err) {
		t.Errorf("unreachable server error = %v, want retryable", err)
	}
}

func setupSQLTransport(t *testing.T, userID string) (*SQLTransport, *sql.DB) {
	t.Helper()

	conn, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "remote.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	tr := NewSQLTransport(conn, userID)
	if err := tr.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return tr, conn
}

func TestSQLTransport(t *testing.T) {
	ctx := context.Background()
	tr, conn := setupSQLTransport(t, "u1")

	n, err := tr.SyncUpsert(ctx, schema.EntityJob, []json.RawMessage{
		jobPayload(t, "j1", "Cafe"), jobPayload(t, "j2", "Bakery"),
	})
	if err != nil || n != 2 {
		t.Fatalf("SyncUpsert() = %d, %v", n, err)
	}

	// Upsert replaces.
	if _, err := tr.SyncUpsert(ctx, schema.EntityJob, []json.RawMessage{jobPayload(t, "j1", "Diner")}); err != nil {
		t.Fatal(err)
	}

	// Another user's records are invisible.
	other := NewSQLTransport(conn, "u2")
	if _, err := other.SyncUpsert(ctx, schema.EntityJob, []json.RawMessage{jobPayload(t, "x1", "Theirs")}); err != nil {
		t.Fatal(err)
	}

	records, err := tr.FetchAll(ctx, schema.EntityJob, "u1")
	if err != nil {
		t.Fatalf("FetchAll() failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("FetchAll() = %d records, want 2", len(records))
	}
	var first schema.Job
	if err := json.Unmarshal(records[0], &first); err != nil {
		t.Fatal(err)
	}
	if first.ID != "j1" || first.Title != "Diner" {
		t.Errorf("first record = %+v, want j1 Diner", first)
	}

	n, err = tr.SyncDelete(ctx, schema.EntityJob, []string{"j2", "missing"})
	if err != nil || n != 1 {
		t.Errorf("SyncDelete() = %d, %v; want 1", n, err)
	}
}

func TestSQLTransport_RejectsInvalidBatch(t *testing.T) {
	ctx := context.Background()
	tr, _ := setupSQLTransport(t, "u1")

	_, err := tr.SyncUpsert(ctx, schema.EntityJob, []json.RawMessage{
		jobPayload(t, "j1", "Cafe"),
		jobPayload(t, "j2", ""), // title is required
	})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("error = %v, want ErrRejected", err)
	}
	if !strings.Contains(err.Error(), "j2") {
		t.Errorf("error %q does not name the invalid entity", err)
	}

	records, _ := tr.FetchAll(ctx, schema.EntityJob, "u1")
	if len(records) != 0 {
		t.Errorf("rejected batch was partially applied: %d records", len(records))
	}
}

func TestSQLTransport_RejectsForeignID(t *testing.T) {
	ctx := context.Background()
	owner, conn := setupSQLTransport(t, "u1")
	if _, err := owner.SyncUpsert(ctx, schema.EntityJob, []json.RawMessage{jobPayload(t, "j1", "Cafe")}); err != nil {
		t.Fatal(err)
	}

	intruder := NewSQLTransport(conn, "u2")
	_, err := intruder.SyncUpsert(ctx, schema.EntityJob, []json.RawMessage{
		jobPayload(t, "mine", "Bakery"), jobPayload(t, "j1", "Hijacked"),
	})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("error = %v, want ErrRejected", err)
	}
	if IsRetryable(err) {
		t.Error("ownership conflict should not be retried")
	}

	records, err := owner.FetchAll(ctx, schema.EntityJob, "u1")
	if err != nil || len(records) != 1 {
		t.Fatalf("FetchAll(u1) = %d records, %v", len(records), err)
	}
	var job schema.Job
	if err := json.Unmarshal(records[0], &job); err != nil {
		t.Fatal(err)
	}
	if job.Title != "Cafe" {
		t.Errorf("owner's record overwritten: %+v", job)
	}
	if theirs, _ := intruder.FetchAll(ctx, schema.EntityJob, "u2"); len(theirs) != 0 {
		t.Errorf("rejected batch was partially applied: %d records", len(theirs))
	}
}

func TestMemoryFailureInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.FailWith(OpUpsert, schema.EntityJob, ErrTransport)
	if _, err := m.SyncUpsert(ctx, schema.EntityJob, []json.RawMessage{jobPayload(t, "j1", "Cafe")}); !errors.Is(err, ErrTransport) {
		t.Fatalf("error = %v, want ErrTransport", err)
	}
	if m.Len(schema.EntityJob) != 0 {
		t.Error("failed upsert stored records")
	}

	// Other types and ops are unaffected.
	if _, err := m.SyncDelete(ctx, schema.EntityJob, []string{"j1"}); err != nil {
		t.Errorf("delete failed: %v", err)
	}

	m.SetFailure(nil)
	if _, err := m.SyncUpsert(ctx, schema.EntityJob, []json.RawMessage{jobPayload(t, "j1", "Cafe")}); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Record(schema.EntityJob, "j1"); !ok {
		t.Error("record missing after upsert")
	}

	calls := m.Calls()
	if len(calls) != 3 || calls[0].Op != OpUpsert || calls[1].Op != OpDelete {
		t.Errorf("calls = %+v", calls)
	}
}
