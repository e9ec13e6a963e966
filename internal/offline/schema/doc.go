// Package schema defines the entities tracked by the offline store and the
// outbox records that carry their changes to the remote backend.
//
// # Entities
//
// Three entity types are synchronized:
//
//   - Job: a client engagement with an hourly rate and pay settings
//   - TimeEntry: a tracked interval on a job, with optional breaks
//   - PayPeriod: a set of time entries totalled and optionally marked paid
//
// Entities reference each other by id only. A TimeEntry points at its Job via
// JobID, and a paid TimeEntry points at the PayPeriod that covered it via
// PaidInPeriodID.
//
// # Outbox Records
//
// Every local mutation produces a SyncQueueItem holding a JSON snapshot of the
// entity as it was when the mutation happened:
//
//	{
//	  "id": "6f1c...",
//	  "entity_type": "time_entry",
//	  "entity_id": "a93e...",
//	  "operation": "update",
//	  "payload": {"id": "a93e...", "job_id": "...", ...},
//	  "enqueued_at": "2026-01-10T07:36:29Z",
//	  "retry_count": 0
//	}
//
// The payload is a copy, so editing the live entity afterwards never changes
// what is already queued.
//
// # Derived Values
//
// Durations and earnings are computed, never stored on TimeEntry:
//
//	d := entry.Duration(time.Now())
//	pay := job.Earnings(job.RoundDuration(d))
//
// PayPeriod totals are computed once, when the period is generated, with
// ComputePayPeriodTotals.
package schema
