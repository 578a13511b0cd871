// Package queue implements the durable, leased, at-least-once command
// queue from spec.md §4.2. There is no direct teacher equivalent (the
// teacher executes DAGs in-process via goroutine waves); the claim
// semantics are grounded on the pack's dist-job-scheduler
// ClaimAndFire transactional pattern, translated into uptrace/bun idiom to
// match the rest of this repo's persistence style.
package queue

import (
	"time"

	"github.com/uptrace/bun"
)

// Status is the command row's lifecycle status, per spec.md §3.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusLeased   Status = "LEASED"
	StatusDone     Status = "DONE"
	StatusFailed   Status = "FAILED"
	StatusReleased Status = "RELEASED"
)

// Command is one queue row, per spec.md §3/§6.
type Command struct {
	bun.BaseModel `bun:"table:commands,alias:cmd"`

	ID            int64          `bun:"id,pk,autoincrement"`
	ExecutionID   int64          `bun:"execution_id,notnull"`
	NodeID        string         `bun:"node_id,notnull"`
	Action        string         `bun:"action,notnull"`
	Context       map[string]any `bun:"context,type:jsonb"`
	Priority      int            `bun:"priority,notnull,default:0"`
	Attempts      int            `bun:"attempts,notnull,default:0"`
	MaxAttempts   int            `bun:"max_attempts,notnull,default:1"`
	Status        Status         `bun:"status,notnull"`
	WorkerID      string         `bun:"worker_id,nullzero"`
	Pool          string         `bun:"pool,notnull,default:''"`
	Runtime       string         `bun:"runtime,notnull,default:''"`
	LeaseUntil    *time.Time     `bun:"lease_until"`
	AvailableAt   time.Time      `bun:"available_at,notnull"`
	LastHeartbeat *time.Time     `bun:"last_heartbeat"`
	ReclaimCount  int            `bun:"reclaim_count,notnull,default:0"`
	TimeoutMs     int            `bun:"timeout_ms,notnull,default:0"`
	CreatedAt     time.Time      `bun:"created_at,notnull,default:current_timestamp"`
}
