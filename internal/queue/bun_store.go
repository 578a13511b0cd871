package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// BunQueue is the Postgres-backed implementation, mirroring the teacher's
// PostgresEventStore's bun-transaction style
// (internal/infrastructure/storage/event_store.go). The claim query itself
// is grounded on the pack's dist-job-scheduler ScheduleRepository.ClaimAndFire
// (`_examples/other_examples/469f8762_ErlanBelekov-dist-job-scheduler__...schedule_repo.go.go`),
// translated from raw pgx SQL into bun's query builder plus a raw
// `FOR UPDATE SKIP LOCKED` fragment so a claim is serializable against
// concurrent claimers without blocking on contended rows.
type BunQueue struct {
	db *bun.DB
}

func NewBunQueue(db *bun.DB) *BunQueue {
	return &BunQueue{db: db}
}

// InitSchema creates the commands table. Called once at process boot, same
// as the teacher's EventStore.InitSchema.
func (q *BunQueue) InitSchema(ctx context.Context) error {
	_, err := q.db.NewCreateTable().Model((*Command)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return fmt.Errorf("queue: init schema: %w", err)
	}
	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS idx_commands_claim ON commands (status, priority DESC, available_at ASC, id ASC)",
		"CREATE INDEX IF NOT EXISTS idx_commands_execution ON commands (execution_id)",
		"CREATE INDEX IF NOT EXISTS idx_commands_lease ON commands (status, lease_until)",
	} {
		if _, err := q.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("queue: create index: %w", err)
		}
	}
	return nil
}

func (q *BunQueue) Enqueue(ctx context.Context, cmd *Command) error {
	cmd.Status = StatusPending
	if cmd.AvailableAt.IsZero() {
		cmd.AvailableAt = time.Now()
	}
	_, err := q.db.NewInsert().Model(cmd).Exec(ctx)
	if err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

// Claim implements serializable claim via a transaction: select candidate
// ids with FOR UPDATE SKIP LOCKED (so two concurrent claimers never pick
// the same row), then update those exact ids. This is the bun-idiom
// translation of the pack's pgx ClaimAndFire pattern.
func (q *BunQueue) Claim(ctx context.Context, workerID string, filter ClaimFilter, maxItems int, leaseMs int) ([]*Command, error) {
	var claimed []*Command
	err := q.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now()

		sel := tx.NewSelect().Model((*Command)(nil)).Column("id").
			Where(`(status IN (?, ?) AND available_at <= ?) OR (status = ? AND lease_until < ?)`,
				StatusPending, StatusReleased, now, StatusLeased, now).
			Order("priority DESC", "available_at ASC", "id ASC").
			Limit(maxItems).
			For("UPDATE SKIP LOCKED")
		if filter.Pool != "" {
			sel = sel.Where("(pool = ? OR pool = '')", filter.Pool)
		}
		if filter.Runtime != "" {
			sel = sel.Where("(runtime = ? OR runtime = '')", filter.Runtime)
		}

		var ids []int64
		if err := sel.Scan(ctx, &ids); err != nil {
			return fmt.Errorf("select candidates: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		leaseUntil := now.Add(time.Duration(leaseMs) * time.Millisecond)
		_, err := tx.NewUpdate().Model((*Command)(nil)).
			Set("status = ?", StatusLeased).
			Set("worker_id = ?", workerID).
			Set("lease_until = ?", leaseUntil).
			Set("last_heartbeat = ?", now).
			Set("attempts = attempts + 1").
			Set("reclaim_count = CASE WHEN status = ? THEN reclaim_count + 1 ELSE reclaim_count END", StatusLeased).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update claimed: %w", err)
		}

		if err := tx.NewSelect().Model(&claimed).Where("id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
			return fmt.Errorf("reload claimed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue: claim: %w", err)
	}
	return claimed, nil
}

func (q *BunQueue) Heartbeat(ctx context.Context, commandID int64, workerID string, extendMs int) error {
	until := time.Now().Add(time.Duration(extendMs) * time.Millisecond)
	res, err := q.db.NewUpdate().Model((*Command)(nil)).
		Set("lease_until = ?", until).
		Set("last_heartbeat = ?", time.Now()).
		Where("id = ? AND worker_id = ? AND status = ?", commandID, workerID, StatusLeased).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("queue: heartbeat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrLeaseNotOwned{CommandID: commandID, WorkerID: workerID}
	}
	return nil
}

func (q *BunQueue) Complete(ctx context.Context, commandID int64, workerID string, failed bool) error {
	status := StatusDone
	if failed {
		status = StatusFailed
	}
	res, err := q.db.NewUpdate().Model((*Command)(nil)).
		Set("status = ?", status).
		Where("id = ? AND worker_id = ? AND status = ?", commandID, workerID, StatusLeased).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("queue: complete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Idempotent: either already terminal, or the lease moved on.
		existing, getErr := q.Get(ctx, commandID)
		if getErr == nil && (existing.Status == StatusDone || existing.Status == StatusFailed) {
			return nil
		}
		return &ErrLeaseNotOwned{CommandID: commandID, WorkerID: workerID}
	}
	return nil
}

func (q *BunQueue) Release(ctx context.Context, commandID int64, _ string) error {
	_, err := q.db.NewUpdate().Model((*Command)(nil)).
		Set("status = ?", StatusReleased).
		Set("worker_id = ''").
		Set("lease_until = NULL").
		Where("id = ?", commandID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("queue: release: %w", err)
	}
	return nil
}

func (q *BunQueue) Reap(ctx context.Context) ([]int64, error) {
	var ids []int64
	now := time.Now()
	err := q.db.NewSelect().Model((*Command)(nil)).Column("id").
		Where("status = ? AND lease_until < ?", StatusLeased, now).
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("queue: reap select: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	_, err = q.db.NewUpdate().Model((*Command)(nil)).
		Set("status = ?", StatusReleased).
		Set("worker_id = ''").
		Set("lease_until = NULL").
		Set("reclaim_count = reclaim_count + 1").
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: reap update: %w", err)
	}
	return ids, nil
}

func (q *BunQueue) Get(ctx context.Context, commandID int64) (*Command, error) {
	cmd := new(Command)
	if err := q.db.NewSelect().Model(cmd).Where("id = ?", commandID).Scan(ctx); err != nil {
		return nil, fmt.Errorf("queue: get %d: %w", commandID, err)
	}
	return cmd, nil
}

func (q *BunQueue) ByExecution(ctx context.Context, executionID int64) ([]*Command, error) {
	var cmds []*Command
	if err := q.db.NewSelect().Model(&cmds).Where("execution_id = ?", executionID).Order("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("queue: by execution %d: %w", executionID, err)
	}
	return cmds, nil
}
