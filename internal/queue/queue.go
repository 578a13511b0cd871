package queue

import (
	"context"
	"time"
)

// ClaimFilter restricts claim() to a worker pool's routing criteria, per
// spec.md §4.3's worker capability advertisement.
type ClaimFilter struct {
	Pool    string
	Runtime string
}

// Queue is the durable command queue contract from spec.md §4.2.
type Queue interface {
	// Enqueue atomically inserts a PENDING row with attempts=0.
	Enqueue(ctx context.Context, cmd *Command) error

	// Claim selects up to maxItems PENDING or RELEASED (or expired-lease) rows matching
	// filter, atomically transitions them to LEASED, and returns them.
	Claim(ctx context.Context, workerID string, filter ClaimFilter, maxItems int, leaseMs int) ([]*Command, error)

	// Heartbeat extends lease_until iff the caller still owns the lease.
	Heartbeat(ctx context.Context, commandID int64, workerID string, extendMs int) error

	// Complete transitions a command to a terminal status; idempotent on
	// duplicate calls for the same (commandID, workerID).
	Complete(ctx context.Context, commandID int64, workerID string, failed bool) error

	// Release moves a command to RELEASED so another worker can claim it.
	Release(ctx context.Context, commandID int64, reason string) error

	// Reap re-opens commands whose lease_until has passed without a
	// heartbeat, incrementing reclaim_count. Returns the reclaimed ids.
	Reap(ctx context.Context) ([]int64, error)

	// Get returns a single command row by id.
	Get(ctx context.Context, commandID int64) (*Command, error)

	// ByExecution lists every command for an execution (used by cancel to
	// release outstanding leases, per spec.md §4.1 Cancellation).
	ByExecution(ctx context.Context, executionID int64) ([]*Command, error)
}

// ErrLeaseNotOwned is returned by Heartbeat/Complete when the caller no
// longer owns the command's lease (spec.md §7's lease-lost error kind).
type ErrLeaseNotOwned struct {
	CommandID int64
	WorkerID  string
}

func (e *ErrLeaseNotOwned) Error() string {
	return "queue: lease not owned by worker " + e.WorkerID + " for command"
}

func leaseExpired(cmd *Command, now time.Time) bool {
	return cmd.LeaseUntil != nil && cmd.LeaseUntil.Before(now)
}
