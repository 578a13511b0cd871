package rest

import (
	"net/http"
)

// runPlaybookRequest is spec.md §6's `{path, version?, parameters, merge?}`.
// `Merge` is accepted for forward-compatibility with a future
// partial-workload-merge mode but is not yet interpreted — the full
// `parameters` map always becomes the execution's workload, matching how
// `scheduler.Scheduler.Start` takes workload today.
type runPlaybookRequest struct {
	Path       string         `json:"path"`
	Version    int            `json:"version,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Merge      bool           `json:"merge,omitempty"`
}

// handleRunPlaybook handles POST /api/run/playbook.
func (s *Server) handleRunPlaybook(w http.ResponseWriter, r *http.Request) {
	var req runPlaybookRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		s.respondError(w, "path is required", http.StatusUnprocessableEntity)
		return
	}

	executionID, err := s.sched.Start(r.Context(), req.Path, req.Version, req.Parameters, nil, "")
	if err != nil {
		s.logger.Error("failed to start execution", "error", err, "path", req.Path)
		s.respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.respondJSON(w, map[string]any{"execution_id": executionID}, http.StatusAccepted)
}
