// Package processor drains the outbox to the remote backend.
//
// A drain takes a snapshot of the queued items, groups them into batches by
// (entity type, operation class) in order of first appearance, and sends each
// batch through the transport:
//
//   - create and update collapse into one upsert batch per type, de-duplicated
//     by entity id with the latest payload winning
//   - deletes form one delete batch per type
//
// A successful batch removes exactly its items from the queue. A failed batch
// increments the retry count of exactly its items; items that reach the
// retry ceiling are dropped and reported. Items appended while a drain is
// running are left for the next drain.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/jobtrack/jobtrack/internal/offline/remote"
	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

// ErrNoTransport is returned by Drain when no transport is configured.
var ErrNoTransport = errors.New("no transport configured")

// Queue is the part of the outbox the processor consumes.
type Queue interface {
	Items() []schema.SyncQueueItem
	Remove(ids []string) int
	MarkFailed(ids []string, max int) []schema.SyncQueueItem
}

// Connectivity reports whether the network is reachable.
type Connectivity interface {
	Connected() bool
}

// Options configures a Processor.
type Options struct {
	// BatchTimeout bounds each transport call (default 30s).
	BatchTimeout time.Duration
	// MaxRetries is the retry ceiling (default schema.MaxRetries).
	MaxRetries int
	// Logger for drain activity (default stderr logger).
	Logger *log.Logger
	// OnDropped is called with the items dropped by a drain.
	OnDropped func(items []schema.SyncQueueItem)
	// OnComplete is called after every drain that was not skipped.
	OnComplete func(res Result)
}

// SkipReason explains why a drain did nothing.
type SkipReason string

const (
	SkipNone     SkipReason = ""
	SkipOffline  SkipReason = "offline"
	SkipInFlight SkipReason = "in_flight"
)

// Batch is one transport call.
type Batch struct {
	EntityType schema.EntityType
	Class      schema.OperationClass
	// ItemIDs are the outbox items the batch settles.
	ItemIDs []string
	// Payloads are set for upserts, one per distinct entity.
	Payloads []json.RawMessage
	// EntityIDs are the distinct entity ids of the batch.
	EntityIDs []string
}

// Result summarizes a drain.
type Result struct {
	Skipped   SkipReason
	Batches   int
	Delivered int
	Failed    int
	Dropped   []schema.SyncQueueItem
}

// Processor drains the outbox. At most one drain runs at a time.
type Processor struct {
	queue        Queue
	transport    remote.Transport
	connectivity Connectivity
	opts         Options
	logger       *log.Logger

	inFlight     atomic.Bool
	droppedTotal atomic.Int64
}

// New creates a processor. A nil connectivity is treated as always online.
func New(queue Queue, transport remote.Transport, connectivity Connectivity, opts Options) *Processor {
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = schema.MaxRetries
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[processor] ", log.LstdFlags)
	}
	return &Processor{
		queue:        queue,
		transport:    transport,
		connectivity: connectivity,
		opts:         opts,
		logger:       opts.Logger,
	}
}

// InFlight reports whether a drain is running.
func (p *Processor) InFlight() bool {
	return p.inFlight.Load()
}

// DroppedTotal returns how many items were dropped since the processor was
// created.
func (p *Processor) DroppedTotal() int64 {
	return p.droppedTotal.Load()
}

// Drain sends every queued item to the backend.
//
// It is a no-op when offline or when another drain is running; Result.Skipped
// tells which. Batch failures are reflected in the queue and joined into the
// returned error; they never stop the remaining batches.
func (p *Processor) Drain(ctx context.Context) (Result, error) {
	var res Result
	if p.transport == nil {
		return res, ErrNoTransport
	}
	if p.connectivity != nil && !p.connectivity.Connected() {
		res.Skipped = SkipOffline
		return res, nil
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		res.Skipped = SkipInFlight
		return res, nil
	}
	defer p.inFlight.Store(false)

	batches := BuildBatches(p.queue.Items())
	var errs []error

	for _, b := range batches {
		if ctx.Err() != nil {
			// Abandoned: remaining items stay queued untouched.
			errs = append(errs, ctx.Err())
			break
		}

		res.Batches++
		if err := p.send(ctx, b); err != nil {
			if ctx.Err() != nil {
				errs = append(errs, fmt.Errorf("%s %s batch abandoned: %w", b.Class, b.EntityType, err))
				break
			}
			p.logger.Printf("Batch %s %s (%d items) failed: %v", b.Class, b.EntityType, len(b.ItemIDs), err)
			errs = append(errs, fmt.Errorf("%s %s batch: %w", b.Class, b.EntityType, err))

			dropped := p.queue.MarkFailed(b.ItemIDs, p.opts.MaxRetries)
			res.Failed += len(b.ItemIDs) - len(dropped)
			res.Dropped = append(res.Dropped, dropped...)
			continue
		}
		res.Delivered += p.queue.Remove(b.ItemIDs)
	}

	if len(res.Dropped) > 0 {
		p.droppedTotal.Add(int64(len(res.Dropped)))
		for _, it := range res.Dropped {
			p.logger.Printf("WARNING: dropped %s %s %s after %d attempts",
				it.Operation, it.EntityType, it.EntityID, it.RetryCount)
		}
		if p.opts.OnDropped != nil {
			p.opts.OnDropped(res.Dropped)
		}
	}

	if res.Batches > 0 {
		p.logger.Printf("Drain complete: %d batches, %d delivered, %d failed, %d dropped",
			res.Batches, res.Delivered, res.Failed, len(res.Dropped))
	}
	if p.opts.OnComplete != nil {
		p.opts.OnComplete(res)
	}
	return res, errors.Join(errs...)
}

func (p *Processor) send(ctx context.Context, b Batch) error {
	bctx, cancel := context.WithTimeout(ctx, p.opts.BatchTimeout)
	defer cancel()

	var err error
	if b.Class == schema.ClassDelete {
		_, err = p.transport.SyncDelete(bctx, b.EntityType, b.EntityIDs)
	} else {
		_, err = p.transport.SyncUpsert(bctx, b.EntityType, b.Payloads)
	}
	return err
}

// BuildBatches groups items by (entity type, operation class) in order of
// first appearance. The last queued operation of an entity decides its class:
// items superseded by a later delete ride in the delete batch without
// sending a payload, and a delete followed by a re-create settles with the
// upsert. Upsert batches carry one payload per entity, the latest one queued.
func BuildBatches(items []schema.SyncQueueItem) []Batch {
	type entity struct {
		entityType schema.EntityType
		id         string
	}
	final := make(map[entity]schema.OperationClass, len(items))
	for _, it := range items {
		final[entity{it.EntityType, it.EntityID}] = it.Operation.Class()
	}

	type key struct {
		entityType schema.EntityType
		class      schema.OperationClass
	}
	var order []key
	batches := make(map[key]*Batch)
	// position of each entity id inside its batch
	index := make(map[key]map[string]int)

	for _, it := range items {
		k := key{it.EntityType, final[entity{it.EntityType, it.EntityID}]}
		b, ok := batches[k]
		if !ok {
			b = &Batch{EntityType: k.entityType, Class: k.class}
			batches[k] = b
			index[k] = make(map[string]int)
			order = append(order, k)
		}
		b.ItemIDs = append(b.ItemIDs, it.ID)

		// A delete superseded by a later upsert only settles.
		if k.class == schema.ClassUpsert && it.Operation.Class() != schema.ClassUpsert {
			continue
		}
		if pos, seen := index[k][it.EntityID]; seen {
			if k.class == schema.ClassUpsert {
				b.Payloads[pos] = it.Payload
			}
			continue
		}
		index[k][it.EntityID] = len(b.EntityIDs)
		b.EntityIDs = append(b.EntityIDs, it.EntityID)
		if k.class == schema.ClassUpsert {
			b.Payloads = append(b.Payloads, it.Payload)
		}
	}

	out := make([]Batch, 0, len(order))
	for _, k := range order {
		out = append(out, *batches[k])
	}
	return out
}
