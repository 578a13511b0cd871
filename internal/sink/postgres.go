package sink

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// PostgresSink writes a step's result into a table via spec.query,
// reusing the teacher's bun/pgdriver connection style from
// internal/infrastructure/storage/bun_store.go (same DSN-keyed cache
// pattern as tool.PostgresTool, kept as an independent copy since sinks
// write rather than read and have their own payload shape).
type PostgresSink struct {
	mu  sync.Mutex
	dbs map[string]*bun.DB
}

func NewPostgresSink() *PostgresSink {
	return &PostgresSink{dbs: make(map[string]*bun.DB)}
}

func (s *PostgresSink) Kind() string { return "postgres" }

func (s *PostgresSink) dbFor(dsn string) *bun.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[dsn]; ok {
		return db
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	s.dbs[dsn] = db
	return db
}

// Execute runs spec.query, binding spec.params (rendered against the step
// scope at dispatch time) plus the sunk value itself as the final
// positional parameter.
func (s *PostgresSink) Execute(ctx context.Context, executionID int64, nodeID string, spec map[string]any, data any) error {
	dsn, _ := spec["dsn"].(string)
	query, _ := spec["query"].(string)
	if dsn == "" || query == "" {
		return fmt.Errorf("sink/postgres: spec.dsn and spec.query are required")
	}
	params, _ := spec["params"].([]any)
	params = append(params, data)

	db := s.dbFor(dsn)
	_, err := db.ExecContext(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("sink/postgres: exec: %w", err)
	}
	return nil
}
