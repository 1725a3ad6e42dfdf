package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashdene/butler-core/internal/automation"
)

// maxQueryParamLen limits query parameter length to prevent DoS via oversized URL params.
const maxQueryParamLen = 100

// handleListAutomations returns all automations, with optional query filters.
//
// Query parameters:
//   - enabled: "true" to return only enabled automations
//   - blueprint_id: filter by source blueprint
func (s *Server) handleListAutomations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if blueprintID := r.URL.Query().Get("blueprint_id"); blueprintID != "" {
		if len(blueprintID) > maxQueryParamLen {
			writeBadRequest(w, "blueprint_id exceeds maximum length")
			return
		}
		defs, err := s.registry.ListByBlueprint(ctx, blueprintID)
		if err != nil {
			writeInternalError(w, "failed to list automations")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"automations": defs, "count": len(defs)})
		return
	}

	if r.URL.Query().Get("enabled") == "true" {
		defs, err := s.registry.ListEnabled(ctx)
		if err != nil {
			writeInternalError(w, "failed to list automations")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"automations": defs, "count": len(defs)})
		return
	}

	defs, err := s.registry.List(ctx)
	if err != nil {
		writeInternalError(w, "failed to list automations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"automations": defs, "count": len(defs)})
}

// handleGetAutomation returns a single automation definition by ID.
func (s *Server) handleGetAutomation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid automation ID")
		return
	}

	def, err := s.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, automation.ErrNotFound) {
			writeNotFound(w, "automation not found")
			return
		}
		writeInternalError(w, "failed to get automation")
		return
	}

	writeJSON(w, http.StatusOK, def)
}

// handleCreateAutomation creates a new automation and registers it with the
// running engine so it takes effect on the next scheduler pass.
func (s *Server) handleCreateAutomation(w http.ResponseWriter, r *http.Request) {
	var def automation.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.registry.Create(r.Context(), &def); err != nil {
		if isValidationError(err) {
			writeBadRequest(w, err.Error())
			return
		}
		if errors.Is(err, automation.ErrExists) {
			writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
			return
		}
		writeInternalError(w, "failed to create automation")
		return
	}

	if err := s.engine.Register(&def); err != nil {
		s.logger.Warn("automation persisted but not registered with engine",
			"automation_id", def.ID, "error", err)
	}

	writeJSON(w, http.StatusCreated, def)
}

// handleUpdateAutomation partially updates an automation. The stored
// definition is decoded over, so omitted fields keep their values.
func (s *Server) handleUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid automation ID")
		return
	}

	existing, err := s.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, automation.ErrNotFound) {
			writeNotFound(w, "automation not found")
			return
		}
		writeInternalError(w, "failed to get automation")
		return
	}

	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	existing.ID = id // Ensure ID cannot be changed

	if err := s.registry.Update(r.Context(), existing); err != nil {
		if isValidationError(err) {
			writeBadRequest(w, err.Error())
			return
		}
		if errors.Is(err, automation.ErrNotFound) {
			writeNotFound(w, "automation not found")
			return
		}
		writeInternalError(w, "failed to update automation")
		return
	}

	// Re-register so the engine picks up the new definition
	if err := s.engine.Register(existing); err != nil {
		s.logger.Warn("automation updated but not re-registered with engine",
			"automation_id", id, "error", err)
	}

	writeJSON(w, http.StatusOK, existing)
}

// handleDeleteAutomation removes an automation by ID.
func (s *Server) handleDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid automation ID")
		return
	}

	if err := s.registry.Delete(r.Context(), id); err != nil {
		if errors.Is(err, automation.ErrNotFound) {
			writeNotFound(w, "automation not found")
			return
		}
		writeInternalError(w, "failed to delete automation")
		return
	}

	// The engine may not know the automation (e.g. created while disabled)
	if err := s.engine.Unregister(id); err != nil && !errors.Is(err, automation.ErrNotFound) {
		s.logger.Warn("automation deleted but engine unregister failed",
			"automation_id", id, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// enableRequest is the request body for POST /automations/{id}/enable.
type enableRequest struct {
	Enabled bool `json:"enabled"`
}

// handleSetAutomationEnabled toggles an automation on or off. The change is
// persisted and mirrored into the running engine.
func (s *Server) handleSetAutomationEnabled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid automation ID")
		return
	}

	var req enableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.registry.SetEnabled(r.Context(), id, req.Enabled); err != nil {
		if errors.Is(err, automation.ErrNotFound) {
			writeNotFound(w, "automation not found")
			return
		}
		writeInternalError(w, "failed to update automation")
		return
	}

	if err := s.engine.SetEnabled(id, req.Enabled); err != nil && !errors.Is(err, automation.ErrNotFound) {
		s.logger.Warn("automation enable state not mirrored to engine",
			"automation_id", id, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": req.Enabled})
}

// handleGetAutomationState returns the live runtime view of an automation:
// config, run counters, and recent execution history from the engine.
func (s *Server) handleGetAutomationState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid automation ID")
		return
	}

	auto, err := s.engine.Get(id)
	if err != nil {
		if errors.Is(err, automation.ErrNotFound) {
			writeNotFound(w, "automation not registered with engine")
			return
		}
		writeInternalError(w, "failed to get automation state")
		return
	}

	writeJSON(w, http.StatusOK, auto.Serialize())
}

// Execution history pagination bounds.
const (
	defaultExecutionLimit = 20
	maxExecutionLimit     = 100
)

// handleListExecutions returns the persisted execution history for an
// automation, newest first.
//
// Query parameters:
//   - limit: maximum records to return (default 20, max 100)
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid automation ID")
		return
	}

	// Verify the automation exists
	if _, err := s.registry.Get(r.Context(), id); err != nil {
		if errors.Is(err, automation.ErrNotFound) {
			writeNotFound(w, "automation not found")
			return
		}
		writeInternalError(w, "failed to get automation")
		return
	}

	limit := defaultExecutionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		if n > maxExecutionLimit {
			n = maxExecutionLimit
		}
		limit = n
	}

	if s.repo == nil {
		writeInternalError(w, "execution history not available")
		return
	}

	executions, err := s.repo.ListExecutions(r.Context(), id, limit)
	if err != nil {
		writeInternalError(w, "failed to list executions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"executions": executions, "count": len(executions)})
}

// isValidationError reports whether err is any of the definition
// validation failures that map to a 400 response.
func isValidationError(err error) bool {
	return errors.Is(err, automation.ErrInvalid) ||
		errors.Is(err, automation.ErrInvalidName) ||
		errors.Is(err, automation.ErrInvalidMode) ||
		errors.Is(err, automation.ErrInvalidConfig) ||
		errors.Is(err, automation.ErrNoActions)
}
