package rest

import (
	"net/http"

	"github.com/noetl/noetl/pkg/playbook"
)

// handleRegisterPlaybook handles POST /api/catalog/playbooks, validating
// the DSL before it ever reaches the catalog store, per spec.md §7's
// Validation error kind ("surfaced synchronously on registration").
func (s *Server) handleRegisterPlaybook(w http.ResponseWriter, r *http.Request) {
	var def playbook.Definition
	if err := decodeJSON(r, &def); err != nil {
		s.respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := playbook.Validate(&def); err != nil {
		s.respondError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	version, err := s.cat.RegisterPlaybook(r.Context(), def)
	if err != nil {
		s.logger.Error("failed to register playbook", "error", err, "path", def.Path)
		s.respondError(w, "failed to register playbook", http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, map[string]any{"path": def.Path, "version": version}, http.StatusCreated)
}

// credentialRequest is the wire shape for POST /api/catalog/credentials.
type credentialRequest struct {
	Name string         `json:"name"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func (s *Server) handleRegisterCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Type == "" {
		s.respondError(w, "name and type are required", http.StatusUnprocessableEntity)
		return
	}

	if err := s.cat.RegisterCredential(r.Context(), req.Name, req.Type, req.Data); err != nil {
		s.logger.Error("failed to register credential", "error", err, "name", req.Name)
		s.respondError(w, "failed to register credential", http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, map[string]string{"name": req.Name}, http.StatusCreated)
}
