package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/jobtrack/jobtrack/internal/offline/outbox"
	"github.com/jobtrack/jobtrack/internal/offline/remote"
	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

var t0 = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

type staticNet bool

func (s staticNet) Connected() bool { return bool(s) }

func setupProcessor(t *testing.T, online bool, opts Options) (*Processor, *outbox.Queue, *remote.Memory) {
	t.Helper()

	quiet := log.New(io.Discard, "", 0)
	n := 0
	q := outbox.New(outbox.Options{
		Now:    func() time.Time { return t0 },
		NewID:  func() string { n++; return fmt.Sprintf("q-%d", n) },
		Logger: quiet,
	})
	mem := remote.NewMemory()
	opts.Logger = quiet
	return New(q, mem, staticNet(online), opts), q, mem
}

func job(id, title string) schema.Job {
	return schema.Job{ID: id, Title: title, HourlyRate: 20, CreatedAt: t0}
}

func TestDrainOfflineIsNoOp(t *testing.T) {
	p, q, mem := setupProcessor(t, false, Options{})
	q.Enqueue(schema.EntityJob, "j1", schema.OpCreate, job("j1", "Cafe"))

	res, err := p.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if res.Skipped != SkipOffline {
		t.Errorf("Skipped = %q, want offline", res.Skipped)
	}
	if len(mem.Calls()) != 0 {
		t.Errorf("offline drain made %d transport calls", len(mem.Calls()))
	}
	if q.Len() != 1 {
		t.Errorf("queue length = %d, want 1", q.Len())
	}
}

func TestDrainPartialSuccess(t *testing.T) {
	p, q, mem := setupProcessor(t, true, Options{})
	q.Enqueue(schema.EntityJob, "j1", schema.OpCreate, job("j1", "Cafe"))
	q.Enqueue(schema.EntityJob, "j2", schema.OpCreate, job("j2", "Bakery"))
	del := q.Enqueue(schema.EntityTimeEntry, "e1", schema.OpDelete, nil)

	mem.FailWith(remote.OpDelete, schema.EntityTimeEntry, remote.ErrTransport)

	res, err := p.Drain(context.Background())
	if !errors.Is(err, remote.ErrTransport) {
		t.Errorf("Drain() error = %v, want ErrTransport", err)
	}
	if res.Batches != 2 || res.Delivered != 2 || res.Failed != 1 {
		t.Errorf("result = %+v", res)
	}

	items := q.Items()
	if len(items) != 1 || items[0].ID != del.ID {
		t.Fatalf("remaining = %+v, want only the delete", items)
	}
	if items[0].RetryCount != 1 {
		t.Errorf("delete retry = %d, want 1", items[0].RetryCount)
	}
	if mem.Len(schema.EntityJob) != 2 {
		t.Errorf("backend jobs = %d, want 2", mem.Len(schema.EntityJob))
	}
}

func TestDrainDropsAfterMaxRetries(t *testing.T) {
	var hooked []schema.SyncQueueItem
	p, q, mem := setupProcessor(t, true, Options{
		OnDropped: func(items []schema.SyncQueueItem) { hooked = append(hooked, items...) },
	})
	q.Enqueue(schema.EntityJob, "j1", schema.OpCreate, job("j1", "Cafe"))
	mem.FailWith("", schema.EntityJob, remote.ErrTransport)

	for i := 1; i < schema.MaxRetries; i++ {
		res, _ := p.Drain(context.Background())
		if len(res.Dropped) != 0 {
			t.Fatalf("drain %d dropped early", i)
		}
		if got := q.Items()[0].RetryCount; got != i {
			t.Fatalf("retry after drain %d = %d", i, got)
		}
	}

	res, _ := p.Drain(context.Background())
	if len(res.Dropped) != 1 {
		t.Fatalf("Dropped = %v, want 1 item", res.Dropped)
	}
	if q.Len() != 0 {
		t.Errorf("queue length = %d, want 0", q.Len())
	}
	if p.DroppedTotal() != 1 || len(hooked) != 1 {
		t.Errorf("DroppedTotal = %d, hook saw %d", p.DroppedTotal(), len(hooked))
	}
}

func TestDrainDeduplicatesUpserts(t *testing.T) {
	p, q, mem := setupProcessor(t, true, Options{})
	a := job("j1", "Cafe")
	q.Enqueue(schema.EntityJob, a.ID, schema.OpCreate, a)
	a.Title = "Diner"
	q.Enqueue(schema.EntityJob, a.ID, schema.OpUpdate, a)
	a.Title = "Bistro"
	q.Enqueue(schema.EntityJob, a.ID, schema.OpUpdate, a)

	if _, err := p.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}

	calls := mem.Calls()
	if len(calls) != 1 || len(calls[0].IDs) != 1 {
		t.Fatalf("calls = %+v, want one upsert of one entity", calls)
	}
	data, _ := mem.Record(schema.EntityJob, "j1")
	var got schema.Job
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Title != "Bistro" {
		t.Errorf("stored title = %q, want the latest (Bistro)", got.Title)
	}
	if q.Len() != 0 {
		t.Errorf("all three items should settle, %d left", q.Len())
	}
}

func TestBuildBatchesOrder(t *testing.T) {
	items := []schema.SyncQueueItem{
		{ID: "1", EntityType: schema.EntityTimeEntry, EntityID: "e1", Operation: schema.OpCreate},
		{ID: "2", EntityType: schema.EntityJob, EntityID: "j1", Operation: schema.OpDelete},
		{ID: "3", EntityType: schema.EntityTimeEntry, EntityID: "e1", Operation: schema.OpUpdate},
		{ID: "4", EntityType: schema.EntityTimeEntry, EntityID: "e2", Operation: schema.OpDelete},
		{ID: "5", EntityType: schema.EntityJob, EntityID: "j2", Operation: schema.OpDelete},
	}

	batches := BuildBatches(items)
	want := []struct {
		typ   schema.EntityType
		class schema.OperationClass
		items int
		ids   int
	}{
		{schema.EntityTimeEntry, schema.ClassUpsert, 2, 1},
		{schema.EntityJob, schema.ClassDelete, 2, 2},
		{schema.EntityTimeEntry, schema.ClassDelete, 1, 1},
	}
	if len(batches) != len(want) {
		t.Fatalf("got %d batches, want %d", len(batches), len(want))
	}
	for i, w := range want {
		b := batches[i]
		if b.EntityType != w.typ || b.Class != w.class || len(b.ItemIDs) != w.items || len(b.EntityIDs) != w.ids {
			t.Errorf("batch %d = %+v", i, b)
		}
	}
}

// blockingTransport blocks upserts until released.
type blockingTransport struct {
	*remote.Memory
	started chan struct{}
	release chan struct{}
}

func (b *blockingTransport) SyncUpsert(ctx context.Context, typ schema.EntityType, p []json.RawMessage) (int, error) {
	close(b.started)
	<-b.release
	return b.Memory.SyncUpsert(ctx, typ, p)
}

func TestDrainInFlightSkip(t *testing.T) {
	quiet := log.New(io.Discard, "", 0)
	q := outbox.New(outbox.Options{Logger: quiet})
	tr := &blockingTransport{Memory: remote.NewMemory(), started: make(chan struct{}), release: make(chan struct{})}
	p := New(q, tr, nil, Options{Logger: quiet})

	q.Enqueue(schema.EntityJob, "j1", schema.OpCreate, job("j1", "Cafe"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := p.Drain(context.Background()); err != nil {
			t.Errorf("first drain failed: %v", err)
		}
	}()

	<-tr.started
	// Enqueued during the drain: must survive it.
	q.Enqueue(schema.EntityJob, "j2", schema.OpCreate, job("j2", "Bakery"))

	res, err := p.Drain(context.Background())
	if err != nil || res.Skipped != SkipInFlight {
		t.Errorf("second drain = %+v, %v; want in-flight skip", res, err)
	}

	close(tr.release)
	wg.Wait()

	items := q.Items()
	if len(items) != 1 || items[0].EntityID != "j2" {
		t.Errorf("remaining = %+v, want j2 only", items)
	}
	if p.InFlight() {
		t.Error("in-flight flag not cleared")
	}
}

func TestDrainWithoutTransport(t *testing.T) {
	p := New(outbox.New(outbox.Options{Logger: log.New(io.Discard, "", 0)}), nil, nil, Options{})
	if _, err := p.Drain(context.Background()); !errors.Is(err, ErrNoTransport) {
		t.Errorf("error = %v, want ErrNoTransport", err)
	}
}

func TestDrainCanceledLeavesItems(t *testing.T) {
	p, q, mem := setupProcessor(t, true, Options{})
	q.Enqueue(schema.EntityJob, "j1", schema.OpCreate, job("j1", "Cafe"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Drain(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if items := q.Items(); len(items) != 1 || items[0].RetryCount != 0 {
		t.Errorf("abandoned drain changed the queue: %+v", items)
	}
	if len(mem.Calls()) != 0 {
		t.Error("canceled drain reached the transport")
	}
}

func TestDeleteSupersedesFailedUpsert(t *testing.T) {
	p, q, mem := setupProcessor(t, true, Options{})
	q.Enqueue(schema.EntityJob, "j1", schema.OpCreate, job("j1", "Cafe"))

	mem.FailWith(remote.OpUpsert, schema.EntityJob, remote.ErrTransport)
	if _, err := p.Drain(context.Background()); !errors.Is(err, remote.ErrTransport) {
		t.Fatalf("first Drain() error = %v, want ErrTransport", err)
	}

	q.Enqueue(schema.EntityJob, "j1", schema.OpDelete, nil)
	mem.SetFailure(nil)
	for i := 0; i < 2; i++ {
		if _, err := p.Drain(context.Background()); err != nil {
			t.Fatalf("Drain() error = %v", err)
		}
	}

	if _, ok := mem.Record(schema.EntityJob, "j1"); ok {
		t.Error("deleted job j1 is back on the remote")
	}
	if q.Len() != 0 {
		t.Errorf("queue length = %d, want 0", q.Len())
	}
	calls := mem.Calls()
	last := calls[len(calls)-1]
	if last.Op != remote.OpDelete {
		t.Errorf("last call = %+v, want the delete", last)
	}
	for _, c := range calls[1:] {
		if c.Op == remote.OpUpsert {
			t.Errorf("upsert resent after delete was queued: %+v", calls)
		}
	}
}

func TestCascadeDeleteSettlesPendingEntryUpserts(t *testing.T) {
	p, q, mem := setupProcessor(t, true, Options{})
	entry := schema.TimeEntry{ID: "e1", JobID: "j1", StartTime: t0, CreatedAt: t0}
	q.Enqueue(schema.EntityJob, "j1", schema.OpCreate, job("j1", "Cafe"))
	q.Enqueue(schema.EntityTimeEntry, "e1", schema.OpCreate, entry)
	q.Enqueue(schema.EntityJob, "j1", schema.OpDelete, nil)
	q.Enqueue(schema.EntityTimeEntry, "e1", schema.OpDelete, nil)

	if _, err := p.Drain(context.Background()); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if mem.Len(schema.EntityJob) != 0 || mem.Len(schema.EntityTimeEntry) != 0 {
		t.Errorf("remote kept jobs=%d entries=%d, want none",
			mem.Len(schema.EntityJob), mem.Len(schema.EntityTimeEntry))
	}
	for _, c := range mem.Calls() {
		if c.Op == remote.OpUpsert {
			t.Errorf("unexpected upsert %+v", c)
		}
	}
	if q.Len() != 0 {
		t.Errorf("queue length = %d, want 0", q.Len())
	}
}

func TestBuildBatchesRecreateAfterDelete(t *testing.T) {
	items := []schema.SyncQueueItem{
		{ID: "1", EntityType: schema.EntityJob, EntityID: "j1", Operation: schema.OpDelete},
		{ID: "2", EntityType: schema.EntityJob, EntityID: "j1", Operation: schema.OpCreate, Payload: json.RawMessage(`{"id":"j1"}`)},
	}
	batches := BuildBatches(items)
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1: %+v", len(batches), batches)
	}
	b := batches[0]
	if b.Class != schema.ClassUpsert || len(b.ItemIDs) != 2 || len(b.Payloads) != 1 || len(b.EntityIDs) != 1 {
		t.Errorf("batch = %+v", b)
	}
}
