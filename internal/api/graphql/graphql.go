// Package graphql implements spec.md §6's two-operation GraphQL surface by
// hand over net/http + encoding/json. No GraphQL library appears anywhere
// in the retrieved pack (see DESIGN.md's stdlib-only justification for this
// package), and the surface is exactly two operations, so a full schema/
// parser library would be disproportionate; operation dispatch is done by
// the client-supplied `operationName` rather than parsing the GraphQL
// query document, since this handler never needs to resolve an arbitrary
// query shape.
package graphql

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/eventlog"
	"github.com/noetl/noetl/internal/scheduler"
)

type request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

type response struct {
	Data   any           `json:"data,omitempty"`
	Errors []responseErr `json:"errors,omitempty"`
}

type responseErr struct {
	Message string `json:"message"`
}

// Handler dispatches the two spec.md §6 operations: executePlaybook
// (mutation) and executionStatus (query).
type Handler struct {
	sched *scheduler.Scheduler
	log   eventlog.EventLog
	zlog  zerolog.Logger
}

func NewHandler(sched *scheduler.Scheduler, log eventlog.EventLog, zlog zerolog.Logger) *Handler {
	return &Handler{sched: sched, log: log, zlog: zlog}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErr(w, "invalid request body", http.StatusBadRequest)
		return
	}

	switch req.OperationName {
	case "executePlaybook":
		h.executePlaybook(w, r, req.Variables)
	case "executionStatus":
		h.executionStatus(w, r, req.Variables)
	default:
		h.writeErr(w, "unknown operation: "+req.OperationName, http.StatusBadRequest)
	}
}

func (h *Handler) executePlaybook(w http.ResponseWriter, r *http.Request, vars map[string]any) {
	name, _ := vars["name"].(string)
	if name == "" {
		h.writeErr(w, "name is required", http.StatusUnprocessableEntity)
		return
	}
	variables, _ := vars["variables"].(map[string]any)
	clientID, _ := vars["clientId"].(string)

	executionID, err := h.sched.Start(r.Context(), name, 0, variables, nil, "")
	if err != nil {
		h.zlog.Error().Err(err).Str("name", name).Msg("graphql: executePlaybook failed")
		h.writeErr(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.writeData(w, map[string]any{
		"executePlaybook": map[string]any{
			"executionId": executionID,
			"status":      "accepted",
			"requestId":   clientID,
		},
	})
}

func (h *Handler) executionStatus(w http.ResponseWriter, r *http.Request, vars map[string]any) {
	executionID, ok := toInt64(vars["executionId"])
	if !ok {
		h.writeErr(w, "executionId is required", http.StatusUnprocessableEntity)
		return
	}

	events, err := h.log.ForExecution(r.Context(), executionID)
	if err != nil {
		h.writeErr(w, "failed to load execution", http.StatusInternalServerError)
		return
	}

	status := "running"
	completed, failed := false, false
	currentStep := ""
	derive := eventlog.Derive{Log: h.log}
	if terminal, ok, err := derive.ExecutionTerminalStatus(r.Context(), executionID); err == nil && ok {
		status = string(terminal.Status)
		completed = terminal.Status == domain.StatusCompleted
		failed = terminal.Status == domain.StatusFailed
	}
	for _, evt := range events {
		if evt.EventType == domain.EventStepEnter {
			currentStep = evt.NodeID
		}
	}

	h.writeData(w, map[string]any{
		"executionStatus": map[string]any{
			"status":      status,
			"completed":   completed,
			"failed":      failed,
			"currentStep": currentStep,
			"events":      events,
		},
	})
}

func (h *Handler) writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response{Data: data})
}

func (h *Handler) writeErr(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response{Errors: []responseErr{{Message: msg}}})
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
