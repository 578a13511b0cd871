package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// DuckDBTool runs a query against the `duckdb` CLI binary. No Go duckdb
// driver appears anywhere in the retrieved pack (see DESIGN.md), so this
// tool shells out to the CLI in JSON output mode, reusing ShellTool's
// os/exec plumbing rather than fabricating a driver dependency.
type DuckDBTool struct{}

func NewDuckDBTool() *DuckDBTool { return &DuckDBTool{} }

func (t *DuckDBTool) Kind() string { return "duckdb" }

func (t *DuckDBTool) Execute(ctx context.Context, spec, args map[string]any) (map[string]any, error) {
	database, _ := spec["database"].(string)
	if database == "" {
		database = ":memory:"
	}
	query, _ := spec["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("tool/duckdb: spec.query is required")
	}

	res, err := runCommand(ctx, "duckdb", []string{database, "-json", "-c", query}, nil)
	if err != nil {
		return res, err
	}
	var rows []map[string]any
	if stdout, _ := res["stdout"].(string); stdout != "" {
		if jerr := json.Unmarshal([]byte(stdout), &rows); jerr == nil {
			res["rows"] = rows
		}
	}
	return res, nil
}
