package rest

import (
	"net/http"

	"github.com/noetl/noetl/internal/queue"
)

// handleQueueClaim handles POST /api/queue/claim for standalone worker
// processes (an embedded worker calls queue.Queue.Claim directly instead).
func (s *Server) handleQueueClaim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkerID string            `json:"worker_id"`
		Filter   queue.ClaimFilter `json:"filter"`
		MaxItems int               `json:"max_items"`
		LeaseMs  int               `json:"lease_ms"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cmds, err := s.q.Claim(r.Context(), req.WorkerID, req.Filter, req.MaxItems, req.LeaseMs)
	if err != nil {
		s.logger.Error("failed to claim commands", "error", err, "worker_id", req.WorkerID)
		s.respondError(w, "failed to claim commands", http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, map[string]any{"commands": cmds}, http.StatusOK)
}

func (s *Server) handleQueueHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CommandID int64  `json:"command_id"`
		WorkerID  string `json:"worker_id"`
		ExtendMs  int    `json:"extend_ms"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.q.Heartbeat(r.Context(), req.CommandID, req.WorkerID, req.ExtendMs); err != nil {
		s.respondError(w, err.Error(), http.StatusConflict)
		return
	}
	s.respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleQueueComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CommandID int64  `json:"command_id"`
		WorkerID  string `json:"worker_id"`
		Failed    bool   `json:"failed"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.q.Complete(r.Context(), req.CommandID, req.WorkerID, req.Failed); err != nil {
		s.respondError(w, err.Error(), http.StatusConflict)
		return
	}
	s.respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}
