package migrate

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jobtrack/jobtrack/internal/offline/schema"
	"gopkg.in/yaml.v3"
)

func ptrTime(t time.Time) *time.Time {
	return &t
}

func testSnapshot() schema.Snapshot {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return schema.Snapshot{
		Jobs: []schema.Job{{
			ID: "j1", Title: "Acme", HourlyRate: 20, CreatedAt: base,
			Settings: schema.JobSettings{PayPeriodType: schema.PayWeekly},
		}},
		TimeEntries: []schema.TimeEntry{
			{ID: "e1", JobID: "j1", StartTime: base, EndTime: ptrTime(base.Add(time.Hour)), PaidInPeriodID: "p1", CreatedAt: base},
			{ID: "e2", JobID: "j1", StartTime: base.Add(2 * time.Hour), CreatedAt: base},
		},
		PayPeriods: []schema.PayPeriod{{
			ID: "p1", JobID: "j1", StartDate: base, EndDate: base.Add(24 * time.Hour),
			TotalDurationMs: 3600000, TotalEarnings: 20, IsPaid: true,
			PaidDate: ptrTime(base.Add(48 * time.Hour)), TimeEntryIDs: []string{"e1"}, CreatedAt: base,
		}},
		ActiveTimeEntryID: "e2",
		LastSyncTimestamp: ptrTime(base.Add(time.Minute)),
	}
}

func TestJSONLRoundTrip(t *testing.T) {
	snap := testSnapshot()
	path := filepath.Join(t.TempDir(), "out", "export.jsonl")

	if err := ExportJSONL(path, snap); err != nil {
		t.Fatalf("ExportJSONL failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d lines, want 5", len(lines))
	}
	if !strings.HasPrefix(lines[0], `{"type":"job"`) || !strings.HasPrefix(lines[4], `{"type":"meta"`) {
		t.Errorf("unexpected record order:\n%s", data)
	}

	got, result, err := ImportJSONL(path, ImportOptions{})
	if err != nil {
		t.Fatalf("ImportJSONL failed: %v", err)
	}
	if result.Jobs != 1 || result.TimeEntries != 2 || result.PayPeriods != 1 || result.Skipped != 0 {
		t.Errorf("result = %+v", result)
	}
	if !reflect.DeepEqual(got, snap) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, snap)
	}
}

func TestReadJSONLRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bad json", `{"type":"job",`},
		{"unknown type", `{"type":"invoice","data":{}}`},
		{"invalid job", `{"type":"job","data":{"id":"j1","title":"","created_at":"2024-01-01T00:00:00Z"}}`},
		{"dangling entry", `{"type":"time_entry","data":{"id":"e1","job_id":"nope","start_time":"2024-01-01T00:00:00Z","created_at":"2024-01-01T00:00:00Z"}}`},
		{"duplicate job", `{"type":"job","data":{"id":"j1","title":"A","created_at":"2024-01-01T00:00:00Z"}}
{"type":"job","data":{"id":"j1","title":"B","created_at":"2024-01-01T00:00:00Z"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadJSONL(strings.NewReader(tt.input), ImportOptions{})
			if !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("err = %v, want ErrInvalidRecord", err)
			}
		})
	}
}

func TestReadJSONLSkipInvalid(t *testing.T) {
	input := `{"type":"job","data":{"id":"j1","title":"A","created_at":"2024-01-01T00:00:00Z"}}

{"type":"time_entry","data":{"id":"e1","job_id":"nope","start_time":"2024-01-01T00:00:00Z","created_at":"2024-01-01T00:00:00Z"}}
{"type":"meta","data":{"active_time_entry_id":"e1"}}
`
	snap, result, err := ReadJSONL(strings.NewReader(input), ImportOptions{SkipInvalid: true})
	if err != nil {
		t.Fatalf("ReadJSONL failed: %v", err)
	}
	if result.Jobs != 1 || result.TimeEntries != 0 || result.Skipped != 1 {
		t.Errorf("result = %+v", result)
	}
	if len(result.Errors) != 1 || !strings.HasPrefix(result.Errors[0], "line 3:") {
		t.Errorf("errors = %v", result.Errors)
	}
	// The active entry was skipped, so it is not carried over.
	if snap.ActiveTimeEntryID != "" {
		t.Errorf("active = %q, want empty", snap.ActiveTimeEntryID)
	}
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteYAML(&buf, testSnapshot()); err != nil {
		t.Fatalf("WriteYAML failed: %v", err)
	}

	var doc struct {
		Jobs []struct {
			ID         string  `yaml:"id"`
			HourlyRate float64 `yaml:"hourly_rate"`
		} `yaml:"jobs"`
		ActiveTimeEntryID string `yaml:"active_time_entry_id"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, buf.String())
	}
	if len(doc.Jobs) != 1 || doc.Jobs[0].ID != "j1" || doc.Jobs[0].HourlyRate != 20 {
		t.Errorf("jobs = %+v", doc.Jobs)
	}
	if doc.ActiveTimeEntryID != "e2" {
		t.Errorf("active = %q", doc.ActiveTimeEntryID)
	}
}
