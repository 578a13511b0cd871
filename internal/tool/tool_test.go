package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTool struct{ kind string }

func (f fakeTool) Kind() string { return f.kind }
func (f fakeTool) Execute(ctx context.Context, spec, args map[string]any) (map[string]any, error) {
	return map[string]any{"kind": f.kind}, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(fakeTool{kind: "http"})

	tl, ok := r.Get("http")
	require.True(t, ok)
	assert.Equal(t, "http", tl.Kind())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}
