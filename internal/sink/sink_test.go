package sink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct{ kind string }

func (f fakeSink) Kind() string { return f.kind }
func (f fakeSink) Execute(ctx context.Context, executionID int64, nodeID string, spec map[string]any, data any) error {
	return nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(fakeSink{kind: "http"})

	s, ok := r.Get("http")
	require.True(t, ok)
	assert.Equal(t, "http", s.Kind())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}
