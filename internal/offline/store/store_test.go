package store

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/jobtrack/jobtrack/internal/offline/outbox"
	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

var t0 = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

// testClock is a manually advanced clock.
type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// setupStore creates a store wired to a memory-only outbox with
// deterministic ids and a manual clock.
func setupStore(t *testing.T) (*Store, *outbox.Queue, *testClock) {
	t.Helper()

	clock := &testClock{now: t0}
	quiet := log.New(io.Discard, "", 0)
	q := outbox.New(outbox.Options{Now: clock.Now, Logger: quiet})

	n := 0
	s := New(q, Options{
		Now: clock.Now,
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
		Logger: quiet,
	})
	return s, q, clock
}

func ops(items []schema.SyncQueueItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = fmt.Sprintf("%s:%s:%s", it.Operation, it.EntityType, it.EntityID)
	}
	return out
}

func assertOps(t *testing.T, q *outbox.Queue, want ...string) {
	t.Helper()
	got := ops(q.Items())
	if len(got) != len(want) {
		t.Fatalf("outbox = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("outbox = %v, want %v", got, want)
		}
	}
}

func TestTrackOneHour(t *testing.T) {
	s, q, clock := setupStore(t)

	jobID := s.CreateJob(JobInput{Title: "J1", HourlyRate: 20})
	entryID := s.StartEntry(jobID, "")
	clock.Advance(3600000 * time.Millisecond)
	stopped, ok := s.StopEntry()
	if !ok || stopped != entryID {
		t.Fatalf("StopEntry() = %q, %v", stopped, ok)
	}

	entry, ok := s.TimeEntry(entryID)
	if !ok {
		t.Fatal("entry missing after stop")
	}
	d := entry.Duration(clock.Now())
	if d != time.Hour {
		t.Errorf("duration = %v, want 1h", d)
	}
	job, _ := s.Job(jobID)
	if got := job.Earnings(d); got != 20 {
		t.Errorf("earnings = %v, want 20", got)
	}
	if _, ok := s.ActiveEntry(); ok {
		t.Error("no entry should be active after stop")
	}

	assertOps(t, q,
		"create:job:"+jobID,
		"create:time_entry:"+entryID,
		"update:time_entry:"+entryID,
	)
}

func TestMutationsEnqueueOneItemEach(t *testing.T) {
	s, q, _ := setupStore(t)

	jobID := s.CreateJob(JobInput{Title: "Cafe"})
	title := "Bakery"
	s.UpdateJob(jobID, JobPatch{Title: &title})
	s.CreatePayPeriod(PayPeriodInput{JobID: jobID, StartDate: t0, EndDate: t0.Add(24 * time.Hour)})

	if q.Len() != 3 {
		t.Errorf("outbox length = %d, want 3", q.Len())
	}

	// Unknown ids are silent no-ops.
	if s.UpdateJob("missing", JobPatch{Title: &title}) {
		t.Error("UpdateJob on unknown id returned true")
	}
	if s.DeleteTimeEntry("missing") {
		t.Error("DeleteTimeEntry on unknown id returned true")
	}
	if s.DeletePayPeriod("missing") {
		t.Error("DeletePayPeriod on unknown id returned true")
	}
	if q.Len() != 3 {
		t.Errorf("no-ops changed outbox length to %d", q.Len())
	}
}

func TestPayloadIsSnapshotAtEnqueue(t *testing.T) {
	s, q, _ := setupStore(t)

	jobID := s.CreateJob(JobInput{Title: "Cafe", HourlyRate: 20})
	rate := 35.0
	s.UpdateJob(jobID, JobPatch{HourlyRate: &rate})

	items := q.Items()
	var created, updated schema.Job
	if err := json.Unmarshal(items[0].Payload, &created); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(items[1].Payload, &updated); err != nil {
		t.Fatal(err)
	}
	if created.HourlyRate != 20 || updated.HourlyRate != 35 {
		t.Errorf("payload rates = %v, %v; want 20, 35", created.HourlyRate, updated.HourlyRate)
	}
}

func TestDeleteJobCascades(t *testing.T) {
	s, q, clock := setupStore(t)

	jobID := s.CreateJob(JobInput{Title: "Cafe"})
	otherID := s.CreateJob(JobInput{Title: "Other"})
	e1 := s.StartEntry(jobID, "")
	clock.Advance(time.Hour)
	e2 := s.StartEntry(jobID, "") // stops e1
	keep := s.CreateTimeEntry(TimeEntryInput{JobID: otherID, StartTime: t0, EndTime: &t0})
	p1 := s.CreatePayPeriod(PayPeriodInput{JobID: jobID, StartDate: t0, EndDate: t0})

	before := q.Len()
	if !s.DeleteJob(jobID) {
		t.Fatal("DeleteJob returned false")
	}

	items := q.Items()[before:]
	got := ops(items)
	want := []string{
		"delete:job:" + jobID,
		"delete:time_entry:" + e1,
		"delete:time_entry:" + e2,
		"delete:pay_period:" + p1,
	}
	if len(got) != len(want) {
		t.Fatalf("cascade = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("cascade[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if _, ok := s.ActiveEntry(); ok {
		t.Error("active pointer should be cleared by cascade")
	}
	if len(s.TimeEntries()) != 1 || s.TimeEntries()[0].ID != keep {
		t.Errorf("entries of other jobs must survive: %+v", s.TimeEntries())
	}
	if len(s.PayPeriods()) != 0 {
		t.Error("pay periods of the job should be deleted")
	}
}

func TestStartWhileActiveStopsPrevious(t *testing.T) {
	s, q, clock := setupStore(t)

	jobID := s.CreateJob(JobInput{Title: "Cafe"})
	first := s.StartEntry(jobID, "")
	s.StartBreak()
	clock.Advance(30 * time.Minute)
	second := s.StartEntry(jobID, "")

	prev, _ := s.TimeEntry(first)
	if prev.IsOpen() {
		t.Error("previous entry should be closed")
	}
	if prev.IsOnBreak || prev.Breaks[0].EndTime == nil {
		t.Error("running break should be closed with the entry")
	}
	if !prev.EndTime.Equal(clock.Now()) {
		t.Errorf("EndTime = %v, want %v", prev.EndTime, clock.Now())
	}

	active, ok := s.ActiveEntry()
	if !ok || active.ID != second {
		t.Errorf("active = %q, want %q", active.ID, second)
	}

	// The stop is recorded before the create of the new entry.
	assertOps(t, q,
		"create:job:"+jobID,
		"create:time_entry:"+first,
		"update:time_entry:"+first,
		"update:time_entry:"+first,
		"create:time_entry:"+second,
	)
}

func TestBreakNoOps(t *testing.T) {
	s, q, clock := setupStore(t)

	if s.StartBreak() || s.EndBreak() {
		t.Fatal("break operations without an active entry must be no-ops")
	}
	if _, ok := s.StopEntry(); ok {
		t.Fatal("StopEntry without an active entry must be a no-op")
	}

	jobID := s.CreateJob(JobInput{Title: "Cafe"})
	entryID := s.StartEntry(jobID, "")
	n := q.Len()

	if s.EndBreak() {
		t.Error("EndBreak when not on break returned true")
	}
	if q.Len() != n {
		t.Error("EndBreak no-op enqueued an item")
	}

	if !s.StartBreak() {
		t.Fatal("StartBreak failed")
	}
	if s.StartBreak() {
		t.Error("second StartBreak returned true")
	}
	clock.Advance(10 * time.Minute)
	if !s.EndBreak() {
		t.Fatal("EndBreak failed")
	}

	entry, _ := s.TimeEntry(entryID)
	if len(entry.Breaks) != 1 || entry.Breaks[0].Duration(clock.Now()) != 10*time.Minute {
		t.Errorf("breaks = %+v", entry.Breaks)
	}
	if q.Len() != n+2 {
		t.Errorf("outbox grew by %d, want 2", q.Len()-n)
	}
}

func TestUpdateActiveEntryIsReflected(t *testing.T) {
	s, _, clock := setupStore(t)

	jobID := s.CreateJob(JobInput{Title: "Cafe"})
	entryID := s.StartEntry(jobID, "")
	note := "closing shift"
	s.UpdateTimeEntry(entryID, TimeEntryPatch{Note: &note})

	active, ok := s.ActiveEntry()
	if !ok || active.Note != note {
		t.Errorf("active note = %q, want %q", active.Note, note)
	}

	clock.Advance(time.Hour)
	end := clock.Now()
	s.UpdateTimeEntry(entryID, TimeEntryPatch{EndTime: &end})
	if _, ok := s.ActiveEntry(); ok {
		t.Error("setting EndTime should stop the active entry")
	}
}

func TestCreateTimeEntryWithoutEndStartsIt(t *testing.T) {
	s, _, _ := setupStore(t)

	jobID := s.CreateJob(JobInput{Title: "Cafe"})
	id := s.CreateTimeEntry(TimeEntryInput{JobID: jobID, StartTime: t0.Add(-time.Hour)})

	active, ok := s.ActiveEntry()
	if !ok || active.ID != id {
		t.Fatalf("active = %v, %v; want %s", active.ID, ok, id)
	}
	if !active.StartTime.Equal(t0.Add(-time.Hour)) {
		t.Errorf("StartTime = %v", active.StartTime)
	}
}

func TestCreateClosedTimeEntryClosesOpenBreak(t *testing.T) {
	s, q, _ := setupStore(t)

	jobID := s.CreateJob(JobInput{Title: "Cafe", HourlyRate: 20})
	start := t0.Add(-3 * time.Hour)
	end := t0.Add(-time.Hour)
	id := s.CreateTimeEntry(TimeEntryInput{
		JobID:     jobID,
		StartTime: start,
		EndTime:   &end,
		Breaks:    []schema.Break{{StartTime: start.Add(30 * time.Minute)}},
	})

	e, ok := s.TimeEntry(id)
	if !ok {
		t.Fatal("entry not created")
	}
	if e.IsOnBreak {
		t.Error("closed entry still on break")
	}
	if got := e.Breaks[0].EndTime; got == nil || !got.Equal(end) {
		t.Errorf("break end = %v, want %v", got, end)
	}
	if got, want := e.Duration(t0), 30*time.Minute; got != want {
		t.Errorf("duration = %v, want %v", got, want)
	}
	if _, ok := s.ActiveEntry(); ok {
		t.Error("closed entry became active")
	}

	items := q.Items()
	var queued schema.TimeEntry
	if err := json.Unmarshal(items[len(items)-1].Payload, &queued); err != nil {
		t.Fatal(err)
	}
	if queued.IsOnBreak || queued.Breaks[0].EndTime == nil {
		t.Errorf("queued payload keeps the open break: %+v", queued)
	}
}

func TestPayAndUnpayLinksEntries(t *testing.T) {
	s, q, clock := setupStore(t)

	jobID := s.CreateJob(JobInput{Title: "Cafe", HourlyRate: 20})
	e1 := s.StartEntry(jobID, "")
	clock.Advance(2 * time.Hour)
	s.StopEntry()

	periodID, ok := s.GeneratePayPeriod(jobID, t0, t0.Add(7*24*time.Hour))
	if !ok {
		t.Fatal("GeneratePayPeriod failed")
	}
	period, _ := s.PayPeriod(periodID)
	if period.TotalEarnings != 40 || period.TotalDuration() != 2*time.Hour {
		t.Errorf("totals = %v, %v; want 40, 2h", period.TotalEarnings, period.TotalDuration())
	}
	if !period.Covers(e1) {
		t.Errorf("period does not cover %s: %v", e1, period.TimeEntryIDs)
	}

	n := q.Len()
	if !s.MarkPayPeriodPaid(periodID, clock.Now()) {
		t.Fatal("MarkPayPeriodPaid failed")
	}
	entry, _ := s.TimeEntry(e1)
	if entry.PaidInPeriodID != periodID {
		t.Errorf("PaidInPeriodID = %q, want %q", entry.PaidInPeriodID, periodID)
	}
	period, _ = s.PayPeriod(periodID)
	if err := period.Validate(); err != nil || !period.IsPaid {
		t.Errorf("paid period invalid: %v", err)
	}
	if q.Len() != n+2 {
		t.Errorf("pay enqueued %d items, want 2", q.Len()-n)
	}

	// Paid entries are not picked up by the next period.
	next, _ := s.GeneratePayPeriod(jobID, t0, t0.Add(7*24*time.Hour))
	if p, _ := s.PayPeriod(next); len(p.TimeEntryIDs) != 0 {
		t.Errorf("second period covers %v, want none", p.TimeEntryIDs)
	}

	s.MarkPayPeriodUnpaid(periodID)
	entry, _ = s.TimeEntry(e1)
	if entry.IsPaid() {
		t.Error("entry should be unlinked after unpay")
	}
	period, _ = s.PayPeriod(periodID)
	if period.IsPaid || period.PaidDate != nil {
		t.Error("period should be unpaid")
	}
}

func TestReplaceKeepsPendingAndActive(t *testing.T) {
	s, q, _ := setupStore(t)

	jobID := s.CreateJob(JobInput{Title: "Local"})
	entryID := s.StartEntry(jobID, "")

	remoteJob := schema.Job{ID: jobID, Title: "Remote", CreatedAt: t0}
	fetchedJob := schema.Job{ID: "r1", Title: "Fetched", CreatedAt: t0}
	n := q.Len()

	s.ReplaceJobs([]schema.Job{remoteJob, fetchedJob}, map[string]bool{jobID: true})
	if q.Len() != n {
		t.Error("replace must not enqueue")
	}
	job, _ := s.Job(jobID)
	if job.Title != "Local" {
		t.Errorf("pending job title = %q, want Local", job.Title)
	}
	if _, ok := s.Job("r1"); !ok {
		t.Error("fetched job missing")
	}

	// Without the active entry in the fetched set, an open fetched entry is
	// adopted.
	open := schema.TimeEntry{ID: "r-open", JobID: "r1", StartTime: t0, CreatedAt: t0}
	s.ReplaceTimeEntries([]schema.TimeEntry{open}, nil)
	active, ok := s.ActiveEntry()
	if !ok || active.ID != "r-open" {
		t.Errorf("active = %q, want r-open", active.ID)
	}
	if _, ok := s.TimeEntry(entryID); ok {
		t.Error("non-pending local entry should be replaced")
	}

	s.ReplaceTimeEntries(nil, nil)
	if _, ok := s.ActiveEntry(); ok {
		t.Error("active pointer should clear when no open entry exists")
	}
}

type recordingPersister struct{ deltas []schema.Delta }

func (p *recordingPersister) SaveDelta(d schema.Delta) error {
	p.deltas = append(p.deltas, d)
	return nil
}

func TestPersisterReceivesTouchedRows(t *testing.T) {
	p := &recordingPersister{}
	s := New(nil, Options{Now: func() time.Time { return t0 }, Persister: p,
		Logger: log.New(io.Discard, "", 0)})

	jobID := s.CreateJob(JobInput{Title: "Cafe"})
	entryID := s.StartEntry(jobID, "")
	s.DeleteJob(jobID)
	if len(p.deltas) != 3 {
		t.Fatalf("persisted %d times, want 3", len(p.deltas))
	}

	created := p.deltas[0]
	if len(created.Jobs) != 1 || created.ActiveTimeEntryID != nil {
		t.Errorf("create delta = %+v", created)
	}
	started := p.deltas[1]
	if len(started.TimeEntries) != 1 || started.ActiveTimeEntryID == nil || *started.ActiveTimeEntryID != entryID {
		t.Errorf("start delta = %+v", started)
	}
	deleted := p.deltas[2]
	if got := deleted.Deleted[schema.EntityJob]; len(got) != 1 || got[0] != jobID {
		t.Errorf("deleted jobs = %v", got)
	}
	if got := deleted.Deleted[schema.EntityTimeEntry]; len(got) != 1 || got[0] != entryID {
		t.Errorf("deleted entries = %v", got)
	}
	if deleted.ActiveTimeEntryID == nil || *deleted.ActiveTimeEntryID != "" {
		t.Errorf("active pointer should be cleared, got %v", deleted.ActiveTimeEntryID)
	}
}

func TestReplaceDeletesOnlyKnownRows(t *testing.T) {
	p := &recordingPersister{}
	s := New(nil, Options{Now: func() time.Time { return t0 }, Persister: p,
		Logger: log.New(io.Discard, "", 0)})
	s.Restore(schema.Snapshot{Jobs: []schema.Job{{ID: "old", Title: "Old", CreatedAt: t0}}})

	s.ReplaceJobs([]schema.Job{{ID: "r1", Title: "Remote", CreatedAt: t0}}, nil)
	if len(p.deltas) != 1 {
		t.Fatalf("persisted %d times, want 1", len(p.deltas))
	}
	d := p.deltas[0]
	if len(d.Jobs) != 1 || d.Jobs[0].ID != "r1" {
		t.Errorf("upserted = %+v", d.Jobs)
	}
	if got := d.Deleted[schema.EntityJob]; len(got) != 1 || got[0] != "old" {
		t.Errorf("deleted = %v, want only the row this store held", got)
	}
}

func TestRestore(t *testing.T) {
	s := New(nil, Options{Logger: log.New(io.Discard, "", 0)})
	end := t0.Add(time.Hour)
	s.Restore(schema.Snapshot{
		Jobs: []schema.Job{{ID: "j1", Title: "Cafe", CreatedAt: t0}},
		TimeEntries: []schema.TimeEntry{
			{ID: "closed", JobID: "j1", StartTime: t0, EndTime: &end, CreatedAt: t0},
			{ID: "open", JobID: "j1", StartTime: end, CreatedAt: end},
		},
		ActiveTimeEntryID: "open",
	})
	active, ok := s.ActiveEntry()
	if !ok || active.ID != "open" {
		t.Errorf("restored active = %+v, %v", active, ok)
	}
	if len(s.Jobs()) != 1 || len(s.TimeEntries()) != 2 {
		t.Errorf("restored %d jobs, %d entries", len(s.Jobs()), len(s.TimeEntries()))
	}
}
