package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/noetl/noetl/internal/domain"
)

// EventRecord is the bun persistence model, grounded directly on the
// teacher's EventRecord in internal/infrastructure/storage/event_store.go
// (table:events, jsonb payload columns, autoincrement primary key used as
// the ordering sequence). The autoincrement id doubles as the monotonic,
// time-sortable event_id spec.md §4.5 calls for: Postgres bigserial values
// are strictly increasing in insertion order, which is sufficient ordering
// for an append-only log whose writes are already time-monotonic.
type EventRecord struct {
	bun.BaseModel `bun:"table:events,alias:ev"`

	ID            int64     `bun:"id,pk,autoincrement"`
	ExecutionID   int64     `bun:"execution_id,notnull"`
	ParentEventID *int64    `bun:"parent_event_id"`
	Timestamp     time.Time `bun:"timestamp,notnull"`
	EventType     string    `bun:"event_type,notnull"`
	NodeID        string    `bun:"node_id,nullzero"`
	NodeName      string    `bun:"node_name,nullzero"`
	Status        string    `bun:"status,notnull"`
	Context       []byte    `bun:"context,type:jsonb"`
	Result        []byte    `bun:"result,type:jsonb"`
	Meta          []byte    `bun:"meta,type:jsonb"`
	Error         []byte    `bun:"error,type:jsonb"`
	LoopID        string    `bun:"loop_id,nullzero"`
	CurrentIndex  *int      `bun:"current_index"`
	Attempt       int       `bun:"attempt,notnull,default:0"`
	IdempotencyKey string   `bun:"idempotency_key,unique"`
}

// BunEventLog is the Postgres-backed implementation.
type BunEventLog struct {
	db *bun.DB
}

func NewBunEventLog(db *bun.DB) *BunEventLog {
	return &BunEventLog{db: db}
}

// InitSchema creates the events table range-partitioned by timestamp, per
// spec.md §4.5's "partitioned by time range for retention and pruning" and
// the teacher's own InitSchema-creates-indexes style.
func (l *BunEventLog) InitSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL,
			execution_id BIGINT NOT NULL,
			parent_event_id BIGINT,
			timestamp TIMESTAMPTZ NOT NULL,
			event_type TEXT NOT NULL,
			node_id TEXT,
			node_name TEXT,
			status TEXT NOT NULL,
			context JSONB,
			result JSONB,
			meta JSONB,
			error JSONB,
			loop_id TEXT,
			current_index INT,
			attempt INT NOT NULL DEFAULT 0,
			idempotency_key TEXT NOT NULL,
			PRIMARY KEY (id, timestamp)
		) PARTITION BY RANGE (timestamp)
	`)
	if err != nil {
		return fmt.Errorf("eventlog: init schema: %w", err)
	}
	for _, idx := range []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_events_idem ON events (idempotency_key)",
		"CREATE INDEX IF NOT EXISTS idx_events_execution ON events (execution_id, id)",
		"CREATE INDEX IF NOT EXISTS idx_events_type ON events (execution_id, event_type)",
		"CREATE INDEX IF NOT EXISTS idx_events_loop ON events (loop_id, current_index)",
	} {
		if _, err := l.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("eventlog: create index: %w", err)
		}
	}
	return nil
}

func toRecord(evt domain.Event) (*EventRecord, error) {
	ctxB, err := json.Marshal(evt.Context)
	if err != nil {
		return nil, err
	}
	resB, err := json.Marshal(evt.Result)
	if err != nil {
		return nil, err
	}
	metaB, err := json.Marshal(evt.Meta)
	if err != nil {
		return nil, err
	}
	errB, err := json.Marshal(evt.Error)
	if err != nil {
		return nil, err
	}
	rec := &EventRecord{
		ExecutionID:    evt.ExecutionID,
		ParentEventID:  evt.ParentEventID,
		Timestamp:      evt.Timestamp,
		EventType:      string(evt.EventType),
		NodeID:         evt.NodeID,
		NodeName:       evt.NodeName,
		Status:         string(evt.Status),
		Context:        ctxB,
		Result:         resB,
		Meta:           metaB,
		Error:          errB,
		Attempt:        evt.Attempt,
		IdempotencyKey: evt.IdempotencyKey(),
	}
	if evt.Loop != nil {
		rec.LoopID = evt.Loop.LoopID
		idx := evt.Loop.CurrentIndex
		rec.CurrentIndex = &idx
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	return rec, nil
}

func fromRecord(rec *EventRecord) domain.Event {
	evt := domain.Event{
		EventID:       rec.ID,
		ExecutionID:   rec.ExecutionID,
		ParentEventID: rec.ParentEventID,
		Timestamp:     rec.Timestamp,
		EventType:     domain.EventType(rec.EventType),
		NodeID:        rec.NodeID,
		NodeName:      rec.NodeName,
		Status:        domain.Status(rec.Status),
		Attempt:       rec.Attempt,
	}
	_ = json.Unmarshal(rec.Context, &evt.Context)
	_ = json.Unmarshal(rec.Result, &evt.Result)
	_ = json.Unmarshal(rec.Meta, &evt.Meta)
	_ = json.Unmarshal(rec.Error, &evt.Error)
	if rec.LoopID != "" {
		li := &domain.LoopInfo{LoopID: rec.LoopID}
		if rec.CurrentIndex != nil {
			li.CurrentIndex = *rec.CurrentIndex
		}
		evt.Loop = li
	}
	return evt
}

func (l *BunEventLog) Append(ctx context.Context, evt domain.Event) (domain.Event, error) {
	out, err := l.AppendBatch(ctx, []domain.Event{evt})
	if err != nil || len(out) == 0 {
		return domain.Event{}, err
	}
	return out[0], nil
}

func (l *BunEventLog) AppendBatch(ctx context.Context, evts []domain.Event) ([]domain.Event, error) {
	if len(evts) == 0 {
		return nil, nil
	}
	records := make([]*EventRecord, 0, len(evts))
	for _, e := range evts {
		rec, err := toRecord(e)
		if err != nil {
			return nil, fmt.Errorf("eventlog: marshal event: %w", err)
		}
		records = append(records, rec)
	}
	out := make([]domain.Event, 0, len(records))
	err := l.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, rec := range records {
			_, err := tx.NewInsert().Model(rec).
				On("CONFLICT (idempotency_key) DO NOTHING").
				Returning("*").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("insert event: %w", err)
			}
			out = append(out, fromRecord(rec))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("eventlog: append batch: %w", err)
	}
	return out, nil
}

func (l *BunEventLog) ForExecution(ctx context.Context, executionID int64) ([]domain.Event, error) {
	var records []*EventRecord
	err := l.db.NewSelect().Model(&records).Where("execution_id = ?", executionID).Order("id ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventlog: for execution: %w", err)
	}
	return recordsToEvents(records), nil
}

func (l *BunEventLog) Since(ctx context.Context, executionID int64, afterID int64) ([]domain.Event, error) {
	var records []*EventRecord
	err := l.db.NewSelect().Model(&records).
		Where("execution_id = ? AND id > ?", executionID, afterID).
		Order("id ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventlog: since: %w", err)
	}
	return recordsToEvents(records), nil
}

func (l *BunEventLog) ByType(ctx context.Context, executionID int64, t domain.EventType) ([]domain.Event, error) {
	var records []*EventRecord
	err := l.db.NewSelect().Model(&records).
		Where("execution_id = ? AND event_type = ?", executionID, string(t)).
		Order("id ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventlog: by type: %w", err)
	}
	return recordsToEvents(records), nil
}

func (l *BunEventLog) Count(ctx context.Context, executionID int64) (int, error) {
	n, err := l.db.NewSelect().Model((*EventRecord)(nil)).Where("execution_id = ?", executionID).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("eventlog: count: %w", err)
	}
	return n, nil
}

func recordsToEvents(records []*EventRecord) []domain.Event {
	out := make([]domain.Event, len(records))
	for i, r := range records {
		out[i] = fromRecord(r)
	}
	return out
}
