package rest

import (
	"net/http"

	"github.com/noetl/noetl/internal/domain"
)

// handleIngestEvent handles POST /api/events, the worker-facing ingestion
// endpoint a standalone worker process uses instead of calling
// scheduler.Scheduler.HandleWorkerEvent in-process.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var evt domain.Event
	if err := decodeJSON(r, &evt); err != nil {
		s.respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.sched.HandleWorkerEvent(r.Context(), evt); err != nil {
		s.logger.Error("failed to fold worker event", "error", err, "execution_id", evt.ExecutionID)
		s.respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.respondJSON(w, map[string]string{"status": "accepted"}, http.StatusAccepted)
}
