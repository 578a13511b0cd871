package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// DuckDBSink appends a step's result to a DuckDB database file via the
// `duckdb` CLI, for the same reason tool.DuckDBTool shells out to it: no
// Go duckdb driver appears anywhere in the retrieved pack (see DESIGN.md).
// The result is marshalled to a temp JSON file and spec.query's
// "{{payload}}" placeholder is substituted with that file's path, so a
// query can read it back with DuckDB's own read_json_auto(path).
type DuckDBSink struct{}

func NewDuckDBSink() *DuckDBSink { return &DuckDBSink{} }

func (s *DuckDBSink) Kind() string { return "duckdb" }

func (s *DuckDBSink) Execute(ctx context.Context, executionID int64, nodeID string, spec map[string]any, data any) error {
	database, _ := spec["database"].(string)
	if database == "" {
		return fmt.Errorf("sink/duckdb: spec.database is required")
	}
	query, _ := spec["query"].(string)
	if query == "" {
		return fmt.Errorf("sink/duckdb: spec.query is required")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("sink/duckdb: marshal data: %w", err)
	}
	f, err := os.CreateTemp("", "noetl-sink-*.json")
	if err != nil {
		return fmt.Errorf("sink/duckdb: temp file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return fmt.Errorf("sink/duckdb: write temp file: %w", err)
	}
	f.Close()

	query = strings.ReplaceAll(query, "{{payload}}", f.Name())
	cmd := exec.CommandContext(ctx, "duckdb", database, "-c", query)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("sink/duckdb: %w: %s", err, out)
	}
	return nil
}
