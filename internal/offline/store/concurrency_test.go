package store

import (
	"io"
	"log"
	"sync"
	"testing"

	"github.com/jobtrack/jobtrack/internal/offline/outbox"
	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

// TestConcurrentMutationsKeepOutboxOrder runs many writers at once and checks
// that every entity's create is queued before any of its updates.
func TestConcurrentMutationsKeepOutboxOrder(t *testing.T) {
	quiet := log.New(io.Discard, "", 0)
	q := outbox.New(outbox.Options{Logger: quiet})
	s := New(q, Options{Logger: quiet})

	const writers = 20
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id := s.CreateJob(JobInput{Title: "job", HourlyRate: 10})
				rate := float64(i)
				s.UpdateJob(id, JobPatch{HourlyRate: &rate})
			}
		}()
	}
	wg.Wait()

	if got, want := len(s.Jobs()), writers*perWriter; got != want {
		t.Fatalf("jobs = %d, want %d", got, want)
	}
	items := q.Items()
	if got, want := len(items), 2*writers*perWriter; got != want {
		t.Fatalf("outbox length = %d, want %d", got, want)
	}

	created := make(map[string]bool)
	for _, it := range items {
		switch it.Operation {
		case schema.OpCreate:
			created[it.EntityID] = true
		case schema.OpUpdate:
			if !created[it.EntityID] {
				t.Fatalf("update of %s queued before its create", it.EntityID)
			}
		}
	}
}
