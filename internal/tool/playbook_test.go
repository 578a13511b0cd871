package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaybookTool_Kind(t *testing.T) {
	assert.Equal(t, "playbook", NewPlaybookTool("http://localhost", nil).Kind())
}

func TestPlaybookTool_MissingPathErrors(t *testing.T) {
	tl := NewPlaybookTool("http://localhost", nil)
	_, err := tl.Execute(context.Background(), map[string]any{}, nil)
	assert.Error(t, err)
}

func TestPlaybookTool_WaitsForChildCompletionAndMergesResult(t *testing.T) {
	var polls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/run/playbook":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"execution_id": 99})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/executions/"):
			n := atomic.AddInt32(&polls, 1)
			status := "RUNNING"
			if n >= 2 {
				status = "COMPLETED"
			}
			json.NewEncoder(w).Encode(map[string]any{"status": status, "result": map[string]any{"rows": 3}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	tl := NewPlaybookTool(server.URL, nil)
	tl.PollEvery = 10 * time.Millisecond

	result, err := tl.Execute(context.Background(), map[string]any{"path": "pipelines/child"}, map[string]any{"x": 1})
	require.NoError(t, err)
	assert.EqualValues(t, 99, result["child_execution_id"])
	assert.Equal(t, "COMPLETED", result["status"])
	assert.EqualValues(t, 3, result["rows"])
}

func TestPlaybookTool_ChildFailureReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(map[string]any{"execution_id": 5})
		default:
			json.NewEncoder(w).Encode(map[string]any{"status": "FAILED"})
		}
	}))
	defer server.Close()

	tl := NewPlaybookTool(server.URL, nil)
	tl.PollEvery = 10 * time.Millisecond

	_, err := tl.Execute(context.Background(), map[string]any{"path": "pipelines/child"}, nil)
	assert.Error(t, err)
}

func TestPlaybookTool_HeartbeatCalledWhilePolling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(map[string]any{"execution_id": 1})
		default:
			json.NewEncoder(w).Encode(map[string]any{"status": "COMPLETED"})
		}
	}))
	defer server.Close()

	var heartbeats int32
	tl := NewPlaybookTool(server.URL, func(ctx context.Context) error {
		atomic.AddInt32(&heartbeats, 1)
		return nil
	})
	tl.PollEvery = 5 * time.Millisecond

	_, err := tl.Execute(context.Background(), map[string]any{"path": "pipelines/child"}, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&heartbeats), int32(1))
}

func TestPlaybookTool_ContextCancelledWhileWaitingReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(map[string]any{"execution_id": 1})
		default:
			json.NewEncoder(w).Encode(map[string]any{"status": "RUNNING"})
		}
	}))
	defer server.Close()

	tl := NewPlaybookTool(server.URL, nil)
	tl.PollEvery = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tl.Execute(ctx, map[string]any{"path": "pipelines/child"}, nil)
	assert.Error(t, err)
}
