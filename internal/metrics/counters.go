package metrics

import (
	"sync/atomic"
)

// Counters are process-wide ingest counters exposed on /api/v1/metrics.
type Counters struct {
	PushReceived    atomic.Int64
	PushRejected    atomic.Int64
	PushAccepted    atomic.Int64
	PushMalformed   atomic.Int64
	UnsignedPushes  atomic.Int64
	QueueFull       atomic.Int64
	StubsQueued     atomic.Int64
	EntriesDropped  atomic.Int64
	EntriesDeleted  atomic.Int64
	Enriched        atomic.Int64
	Inserted        atomic.Int64
	Updated         atomic.Int64
	NotFound        atomic.Int64
	Retried         atomic.Int64
	DeadLettered    atomic.Int64
	StoreErrors     atomic.Int64
	RenewalsOK      atomic.Int64
	RenewalFailures atomic.Int64
	BackfillRuns    atomic.Int64
}

func New() *Counters {
	return &Counters{}
}

// Snapshot copies every counter into a map keyed by its JSON name.
func (c *Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		"push_received":    c.PushReceived.Load(),
		"push_rejected":    c.PushRejected.Load(),
		"push_accepted":    c.PushAccepted.Load(),
		"push_malformed":   c.PushMalformed.Load(),
		"unsigned_pushes":  c.UnsignedPushes.Load(),
		"queue_full":       c.QueueFull.Load(),
		"stubs_queued":     c.StubsQueued.Load(),
		"entries_dropped":  c.EntriesDropped.Load(),
		"entries_deleted":  c.EntriesDeleted.Load(),
		"enriched":         c.Enriched.Load(),
		"inserted":         c.Inserted.Load(),
		"updated":          c.Updated.Load(),
		"not_found":        c.NotFound.Load(),
		"retried":          c.Retried.Load(),
		"dead_lettered":    c.DeadLettered.Load(),
		"store_errors":     c.StoreErrors.Load(),
		"renewals_ok":      c.RenewalsOK.Load(),
		"renewal_failures": c.RenewalFailures.Load(),
		"backfill_runs":    c.BackfillRuns.Load(),
	}
}
