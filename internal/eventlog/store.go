// Package eventlog implements the append-only event log from spec.md §4.5:
// ingestion with idempotency, and the derivation queries the scheduler and
// validators rely on. Grounded on the teacher's
// internal/infrastructure/storage/event_store.go (MemoryEventStore +
// PostgresEventStore, bun EventRecord model, transactional AppendEvents).
package eventlog

import (
	"context"

	"github.com/noetl/noetl/internal/domain"
)

// EventLog is the append-only store contract.
type EventLog interface {
	// Append ingests one event, assigning the store's own event_id and
	// stamping a server-side timestamp if missing, per spec.md §4.5's
	// ingestion contract. Idempotent on Event.IdempotencyKey() only; a
	// caller-supplied event_id is not kept and takes no part in
	// deduplication.
	Append(ctx context.Context, evt domain.Event) (domain.Event, error)

	// AppendBatch ingests several events for one execution transactionally,
	// preserving order — this is what the scheduler's fold cycle calls
	// after Execution.GetUncommittedEvents().
	AppendBatch(ctx context.Context, evts []domain.Event) ([]domain.Event, error)

	// ForExecution returns every event for an execution in event_id order.
	ForExecution(ctx context.Context, executionID int64) ([]domain.Event, error)

	// Since returns events for an execution with event_id > afterID, used
	// for SSE catch-up and pagination (spec.md §6 GET /api/executions/{id}).
	Since(ctx context.Context, executionID int64, afterID int64) ([]domain.Event, error)

	// ByType filters an execution's events by type.
	ByType(ctx context.Context, executionID int64, t domain.EventType) ([]domain.Event, error)

	// Count returns the total number of events stored for an execution.
	Count(ctx context.Context, executionID int64) (int, error)
}
