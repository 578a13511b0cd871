package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl/internal/catalog"
	"github.com/noetl/noetl/internal/eventlog"
	"github.com/noetl/noetl/internal/queue"
	"github.com/noetl/noetl/internal/scheduler"
	"github.com/noetl/noetl/internal/template"
	"github.com/noetl/noetl/pkg/playbook"
)

func newTestHandler(t *testing.T) (*Handler, eventlog.EventLog) {
	t.Helper()
	cat := catalog.NewMemoryStore()
	evlog := eventlog.NewMemoryEventLog()
	cq := queue.NewMemoryQueue()
	sched := scheduler.New(evlog, cq, cat, template.New())

	_, err := cat.RegisterPlaybook(context.Background(), playbook.Definition{
		Path: "pipelines/etl",
		Workflow: []playbook.StepDef{
			{Step: "fetch", Tool: &playbook.ToolDef{Kind: "http", Spec: map[string]any{"url": "https://example.com"}}},
		},
	})
	require.NoError(t, err)

	return NewHandler(sched, evlog, zerolog.New(os.Stderr).Level(zerolog.ErrorLevel)), evlog
}

func postGraphQL(t *testing.T, h *Handler, req request) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httpReq)
	return rec
}

func TestExecutePlaybook(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := postGraphQL(t, h, request{
		OperationName: "executePlaybook",
		Variables:     map[string]any{"name": "pipelines/etl", "variables": map[string]any{"x": 1}},
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Errors)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	result, ok := data["executePlaybook"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "accepted", result["status"])
	assert.NotZero(t, result["executionId"])
}

func TestExecutePlaybook_MissingName(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := postGraphQL(t, h, request{OperationName: "executePlaybook", Variables: map[string]any{}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestExecutionStatus(t *testing.T) {
	h, _ := newTestHandler(t)

	runRec := postGraphQL(t, h, request{
		OperationName: "executePlaybook",
		Variables:     map[string]any{"name": "pipelines/etl"},
	})
	require.Equal(t, http.StatusOK, runRec.Code)

	var runResp response
	require.NoError(t, json.Unmarshal(runRec.Body.Bytes(), &runResp))
	execID := runResp.Data.(map[string]any)["executePlaybook"].(map[string]any)["executionId"]

	statusRec := postGraphQL(t, h, request{
		OperationName: "executionStatus",
		Variables:     map[string]any{"executionId": execID},
	})
	require.Equal(t, http.StatusOK, statusRec.Code)

	var statusResp response
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &statusResp))
	result := statusResp.Data.(map[string]any)["executionStatus"].(map[string]any)
	assert.Contains(t, result, "status")
	assert.Contains(t, result, "events")
}

func TestUnknownOperation(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := postGraphQL(t, h, request{OperationName: "deleteEverything"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
