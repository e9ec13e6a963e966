// Package reconcile pulls the remote state into the local store.
//
// A reconciliation first drains the outbox so local edits reach the backend,
// then fetches jobs, time entries and pay periods in parallel and replaces
// each local collection with the fetched one. A collection whose fetch fails
// keeps its local state; the failure is reported, never hidden.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jobtrack/jobtrack/internal/offline/processor"
	"github.com/jobtrack/jobtrack/internal/offline/remote"
	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

// Store receives the fetched collections.
type Store interface {
	ReplaceJobs(jobs []schema.Job, keep map[string]bool)
	ReplaceTimeEntries(entries []schema.TimeEntry, keep map[string]bool)
	ReplacePayPeriods(periods []schema.PayPeriod, keep map[string]bool)
	SetLastSync(t time.Time)
}

// Drainer flushes the outbox.
type Drainer interface {
	Drain(ctx context.Context) (processor.Result, error)
}

// PendingSource reports entities that still have undelivered outbox items.
type PendingSource interface {
	PendingIDs(entityType schema.EntityType) map[string]bool
}

// Options configures a Reconciler.
type Options struct {
	// FetchAttempts is how many times each fetch is tried (default 3).
	FetchAttempts int
	// BackoffBase is the delay before the second attempt; it doubles after
	// each further failure (default 500ms).
	BackoffBase time.Duration
	// MaxBackoff caps the delay between attempts (default 10s).
	MaxBackoff time.Duration
	// FetchTimeout bounds each fetch attempt (default 30s).
	FetchTimeout time.Duration
	// Pending, when set, keeps the local version of entities with queued
	// items instead of overwriting them with the fetched version.
	Pending PendingSource
	// BeforeApply, when set, runs after the fetches and before any
	// collection is replaced. A failure is logged and the apply goes ahead.
	BeforeApply func() error
	// Now is the clock for the last sync timestamp (default time.Now).
	Now func() time.Time
	// Logger for reconcile activity (default stderr logger).
	Logger *log.Logger
	// OnComplete is called with every report.
	OnComplete func(rep Report)
}

// FetchError is a failed fetch of one collection.
type FetchError struct {
	EntityType schema.EntityType
	Err        error
}

func (e FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.EntityType, e.Err)
}

func (e FetchError) Unwrap() error {
	return e.Err
}

// ReconciliationError lists the collections that could not be refreshed.
type ReconciliationError struct {
	Errors []FetchError
}

func (e *ReconciliationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Error()
	}
	return "reconciliation incomplete: " + strings.Join(parts, "; ")
}

// Unwrap exposes the individual fetch errors to errors.Is and errors.As.
func (e *ReconciliationError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, fe := range e.Errors {
		errs[i] = fe
	}
	return errs
}

// Report summarizes a reconciliation.
type Report struct {
	Drain    processor.Result
	DrainErr error
	// Applied lists the collections that were replaced, in apply order.
	Applied []schema.EntityType
	// Counts holds the fetched size of each applied collection.
	Counts map[schema.EntityType]int
	Failed []FetchError
	// SyncedAt is set when at least one collection was applied.
	SyncedAt time.Time
}

// Reconciler performs pull-and-replace reconciliation.
type Reconciler struct {
	store     Store
	drainer   Drainer
	transport remote.Transport
	opts      Options
	logger    *log.Logger
}

// New creates a reconciler. A nil drainer skips the drain step.
func New(store Store, drainer Drainer, transport remote.Transport, opts Options) *Reconciler {
	if opts.FetchAttempts <= 0 {
		opts.FetchAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	return &Reconciler{
		store:     store,
		drainer:   drainer,
		transport: transport,
		opts:      opts,
		logger:    opts.Logger,
	}
}

// fetched holds the decoded collections. A nil slice pointer means the
// fetch failed.
type fetched struct {
	jobs    *[]schema.Job
	entries *[]schema.TimeEntry
	periods *[]schema.PayPeriod
}

// Reconcile drains the outbox, then fetches and replaces every collection
// owned by userID.
//
// A drain failure is recorded in the report and does not stop the pull.
// Fetch failures leave the affected collections untouched and are returned
// as a *ReconciliationError alongside the report.
func (r *Reconciler) Reconcile(ctx context.Context, userID string) (Report, error) {
	var rep Report
	if r.transport == nil {
		return rep, processor.ErrNoTransport
	}

	if r.drainer != nil {
		rep.Drain, rep.DrainErr = r.drainer.Drain(ctx)
		if rep.DrainErr != nil {
			r.logger.Printf("Drain before pull failed: %v", rep.DrainErr)
		}
	}

	var f fetched
	var jobsErr, entriesErr, periodsErr error

	// Failures are kept per collection; the group itself never fails.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		jobs, err := fetchTyped[schema.Job](gctx, r, schema.EntityJob, userID)
		if err == nil {
			f.jobs = &jobs
		}
		jobsErr = err
		return nil
	})
	g.Go(func() error {
		entries, err := fetchTyped[schema.TimeEntry](gctx, r, schema.EntityTimeEntry, userID)
		if err == nil {
			f.entries = &entries
		}
		entriesErr = err
		return nil
	})
	g.Go(func() error {
		periods, err := fetchTyped[schema.PayPeriod](gctx, r, schema.EntityPayPeriod, userID)
		if err == nil {
			f.periods = &periods
		}
		periodsErr = err
		return nil
	})
	_ = g.Wait()

	if r.opts.BeforeApply != nil && (f.jobs != nil || f.entries != nil || f.periods != nil) {
		if err := r.opts.BeforeApply(); err != nil {
			r.logger.Printf("Reload before apply failed: %v", err)
		}
	}

	rep.Counts = make(map[schema.EntityType]int)
	if f.jobs != nil {
		r.store.ReplaceJobs(*f.jobs, r.keep(schema.EntityJob))
		r.applied(&rep, schema.EntityJob, len(*f.jobs))
	} else {
		rep.Failed = append(rep.Failed, FetchError{schema.EntityJob, jobsErr})
	}
	if f.entries != nil {
		r.store.ReplaceTimeEntries(*f.entries, r.keep(schema.EntityTimeEntry))
		r.applied(&rep, schema.EntityTimeEntry, len(*f.entries))
	} else {
		rep.Failed = append(rep.Failed, FetchError{schema.EntityTimeEntry, entriesErr})
	}
	if f.periods != nil {
		r.store.ReplacePayPeriods(*f.periods, r.keep(schema.EntityPayPeriod))
		r.applied(&rep, schema.EntityPayPeriod, len(*f.periods))
	} else {
		rep.Failed = append(rep.Failed, FetchError{schema.EntityPayPeriod, periodsErr})
	}

	if len(rep.Applied) > 0 {
		rep.SyncedAt = r.opts.Now()
		r.store.SetLastSync(rep.SyncedAt)
	}

	r.logger.Printf("Reconcile complete: %d applied, %d failed", len(rep.Applied), len(rep.Failed))
	if r.opts.OnComplete != nil {
		r.opts.OnComplete(rep)
	}

	if len(rep.Failed) > 0 {
		return rep, &ReconciliationError{Errors: rep.Failed}
	}
	return rep, nil
}

func (r *Reconciler) applied(rep *Report, t schema.EntityType, n int) {
	rep.Applied = append(rep.Applied, t)
	rep.Counts[t] = n
}

func (r *Reconciler) keep(t schema.EntityType) map[string]bool {
	if r.opts.Pending == nil {
		return nil
	}
	return r.opts.Pending.PendingIDs(t)
}

// fetchTyped fetches and decodes one collection.
func fetchTyped[T any](ctx context.Context, r *Reconciler, t schema.EntityType, userID string) ([]T, error) {
	raw, err := r.fetchWithRetry(ctx, t, userID)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for i, rec := range raw {
		var v T
		if err := json.Unmarshal(rec, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s record %d: %w", t, i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// fetchWithRetry calls FetchAll up to FetchAttempts times with exponential
// backoff. Non-retryable errors end the loop early.
func (r *Reconciler) fetchWithRetry(ctx context.Context, t schema.EntityType, userID string) ([]json.RawMessage, error) {
	delay := r.opts.BackoffBase
	var lastErr error

	for attempt := 1; attempt <= r.opts.FetchAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > r.opts.MaxBackoff {
				delay = r.opts.MaxBackoff
			}
		}

		actx, cancel := context.WithTimeout(ctx, r.opts.FetchTimeout)
		records, err := r.transport.FetchAll(actx, t, userID)
		cancel()
		if err == nil {
			return records, nil
		}

		lastErr = err
		r.logger.Printf("Fetch %s attempt %d/%d failed: %v", t, attempt, r.opts.FetchAttempts, err)
		if !remote.IsRetryable(err) {
			break
		}
	}
	return nil, fmt.Errorf("failed to fetch %s: %w", t, lastErr)
}
