package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostgresTool_Kind(t *testing.T) {
	assert.Equal(t, "postgres", NewPostgresTool().Kind())
}

func TestPostgresTool_MissingDSNErrors(t *testing.T) {
	tl := NewPostgresTool()
	_, err := tl.Execute(context.Background(), map[string]any{"query": "select 1"}, nil)
	assert.Error(t, err)
}

func TestPostgresTool_MissingQueryErrors(t *testing.T) {
	tl := NewPostgresTool()
	_, err := tl.Execute(context.Background(), map[string]any{"dsn": "postgres://localhost/db"}, nil)
	assert.Error(t, err)
}
