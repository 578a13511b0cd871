package sink

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuckDBSink_Kind(t *testing.T) {
	assert.Equal(t, "duckdb", NewDuckDBSink().Kind())
}

func TestDuckDBSink_MissingDatabaseErrors(t *testing.T) {
	s := NewDuckDBSink()
	err := s.Execute(context.Background(), 1, "n1", map[string]any{"query": "select 1"}, nil)
	assert.Error(t, err)
}

func TestDuckDBSink_MissingQueryErrors(t *testing.T) {
	s := NewDuckDBSink()
	err := s.Execute(context.Background(), 1, "n1", map[string]any{"database": ":memory:"}, nil)
	assert.Error(t, err)
}

func TestDuckDBSink_WritesPayloadViaCLI(t *testing.T) {
	if _, err := exec.LookPath("duckdb"); err != nil {
		t.Skip("duckdb CLI not available in this environment")
	}
	dbPath := filepath.Join(t.TempDir(), "sink.duckdb")
	s := NewDuckDBSink()
	err := s.Execute(context.Background(), 1, "n1",
		map[string]any{"database": dbPath, "query": "create table t as select * from read_json_auto('{{payload}}')"},
		map[string]any{"rows": 5},
	)
	require.NoError(t, err)
	_, statErr := os.Stat(dbPath)
	assert.NoError(t, statErr)
}
