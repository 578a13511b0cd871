package tool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// PostgresTool runs a parameterized SQL statement against a DSN named in
// spec.dsn, grounded on the teacher's internal/infrastructure/storage
// BunStore connection style (pgdriver.NewConnector + bun.NewDB), reused
// here for ad hoc query execution instead of model persistence.
type PostgresTool struct {
	mu      sync.Mutex
	dbs     map[string]*bun.DB
}

func NewPostgresTool() *PostgresTool {
	return &PostgresTool{dbs: make(map[string]*bun.DB)}
}

func (t *PostgresTool) Kind() string { return "postgres" }

func (t *PostgresTool) dbFor(dsn string) *bun.DB {
	t.mu.Lock()
	defer t.mu.Unlock()
	if db, ok := t.dbs[dsn]; ok {
		return db
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	t.dbs[dsn] = db
	return db
}

// Execute runs spec.query with args.params ([]any, positional $1.. binds)
// and returns {rows: [...]}. When the statement fails as a query but
// succeeds as an exec, it returns {rows_affected: n} instead.
func (t *PostgresTool) Execute(ctx context.Context, spec, args map[string]any) (map[string]any, error) {
	dsn, _ := spec["dsn"].(string)
	query, _ := spec["query"].(string)
	if dsn == "" || query == "" {
		return nil, fmt.Errorf("tool/postgres: spec.dsn and spec.query are required")
	}
	params, _ := args["params"].([]any)

	db := t.dbFor(dsn)
	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		if res, execErr := db.ExecContext(ctx, query, params...); execErr == nil {
			n, _ := res.RowsAffected()
			return map[string]any{"rows_affected": n}, nil
		}
		return nil, fmt.Errorf("tool/postgres: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("tool/postgres: columns: %w", err)
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("tool/postgres: scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return map[string]any{"rows": out}, rows.Err()
}
