package rest

import (
	"net/http"
	"strconv"

	"github.com/noetl/noetl/internal/eventlog"
)

// handleGetExecution handles GET /api/executions/{id}?after_id=N, returning
// the execution's current terminal status (if any) plus an events page,
// per spec.md §6.
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	executionID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.respondError(w, "invalid execution id", http.StatusBadRequest)
		return
	}

	afterID := int64(0)
	if raw := r.URL.Query().Get("after_id"); raw != "" {
		afterID, _ = strconv.ParseInt(raw, 10, 64)
	}

	events, err := s.log.Since(r.Context(), executionID, afterID)
	if err != nil {
		s.logger.Error("failed to load events", "error", err, "execution_id", executionID)
		s.respondError(w, "failed to load events", http.StatusInternalServerError)
		return
	}

	status := "running"
	derive := eventlog.Derive{Log: s.log}
	if terminal, ok, err := derive.ExecutionTerminalStatus(r.Context(), executionID); err == nil && ok {
		status = string(terminal.Status)
	}

	s.respondJSON(w, map[string]any{
		"execution_id": executionID,
		"status":       status,
		"events":       events,
	}, http.StatusOK)
}

// handleCancelExecution handles POST /api/executions/{id}/cancel.
func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	executionID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.respondError(w, "invalid execution id", http.StatusBadRequest)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = decodeJSON(r, &req)

	if err := s.sched.Cancel(r.Context(), executionID, req.Reason); err != nil {
		s.logger.Error("failed to cancel execution", "error", err, "execution_id", executionID)
		s.respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.respondJSON(w, map[string]any{"execution_id": executionID, "status": "cancelling"}, http.StatusOK)
}
