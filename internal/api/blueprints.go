package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashdene/butler-core/internal/automation"
)

// handleListBlueprints returns blueprints from the library, with optional
// search filters.
//
// Query parameters:
//   - domain: exact domain match (e.g. "lighting")
//   - name: case-insensitive substring match
//   - author: case-insensitive substring match
func (s *Server) handleListBlueprints(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := automation.SearchFilter{
		Domain: q.Get("domain"),
		Name:   q.Get("name"),
		Author: q.Get("author"),
	}
	if len(filter.Domain) > maxQueryParamLen || len(filter.Name) > maxQueryParamLen || len(filter.Author) > maxQueryParamLen {
		writeBadRequest(w, "query parameter exceeds maximum length")
		return
	}

	var blueprints []*automation.Blueprint
	if filter.Domain != "" || filter.Name != "" || filter.Author != "" {
		blueprints = s.library.Search(filter)
	} else {
		blueprints = s.library.All()
	}

	serialized := make([]map[string]any, 0, len(blueprints))
	for _, bp := range blueprints {
		serialized = append(serialized, bp.Serialize(false))
	}

	writeJSON(w, http.StatusOK, map[string]any{"blueprints": serialized, "count": len(serialized)})
}

// handleGetBlueprint returns a single blueprint, including its instances.
func (s *Server) handleGetBlueprint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid blueprint ID")
		return
	}

	bp, err := s.library.Get(id)
	if err != nil {
		if errors.Is(err, automation.ErrBlueprintNotFound) {
			writeNotFound(w, "blueprint not found")
			return
		}
		writeInternalError(w, "failed to get blueprint")
		return
	}

	writeJSON(w, http.StatusOK, bp.Serialize(true))
}

// handleCreateBlueprint registers a new blueprint and persists it.
func (s *Server) handleCreateBlueprint(w http.ResponseWriter, r *http.Request) {
	var rec automation.BlueprintRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if rec.ID == "" || rec.Name == "" {
		writeBadRequest(w, "blueprint id and name are required")
		return
	}

	bp := rec.ToBlueprint()
	if err := s.library.Register(bp); err != nil {
		if errors.Is(err, automation.ErrBlueprintExists) {
			writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
			return
		}
		writeInternalError(w, "failed to register blueprint")
		return
	}

	if s.repo != nil {
		if err := s.repo.CreateBlueprint(r.Context(), &rec); err != nil {
			// Roll back the library registration so memory and disk agree
			//nolint:errcheck // blueprint was just registered
			s.library.Unregister(bp.BlueprintID)
			writeInternalError(w, "failed to persist blueprint")
			return
		}
	}

	writeJSON(w, http.StatusCreated, bp.Serialize(false))
}

// handleDeleteBlueprint removes a blueprint from the library and storage.
// Automations already stamped from it are unaffected.
func (s *Server) handleDeleteBlueprint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid blueprint ID")
		return
	}

	if err := s.library.Unregister(id); err != nil {
		if errors.Is(err, automation.ErrBlueprintNotFound) {
			writeNotFound(w, "blueprint not found")
			return
		}
		writeInternalError(w, "failed to delete blueprint")
		return
	}

	if s.repo != nil {
		if err := s.repo.DeleteBlueprint(r.Context(), id); err != nil && !errors.Is(err, automation.ErrBlueprintNotFound) {
			s.logger.Warn("blueprint removed from library but not storage",
				"blueprint_id", id, "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleBlueprintStats returns library-wide blueprint statistics.
func (s *Server) handleBlueprintStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.library.Statistics())
}

// instantiateRequest is the request body for POST /blueprints/{id}/instances.
type instantiateRequest struct {
	Name            string         `json:"name"`
	AutomationID    string         `json:"automation_id"`
	ParameterValues map[string]any `json:"parameter_values"`
}

// handleInstantiateBlueprint stamps a new automation out of a blueprint.
//
// Parameter values are validated against the blueprint's schema, the
// component configs are resolved, and the result is persisted as a regular
// automation with blueprint provenance and registered with the engine.
func (s *Server) handleInstantiateBlueprint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid blueprint ID")
		return
	}

	bp, err := s.library.Get(id)
	if err != nil {
		if errors.Is(err, automation.ErrBlueprintNotFound) {
			writeNotFound(w, "blueprint not found")
			return
		}
		writeInternalError(w, "failed to get blueprint")
		return
	}

	var req instantiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "instance name is required")
		return
	}

	instance, err := bp.CreateInstance(req.Name, req.ParameterValues, req.AutomationID)
	if err != nil {
		if errors.Is(err, automation.ErrInvalidParameter) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to create blueprint instance")
		return
	}

	def, err := s.definitionFromInstance(bp, instance)
	if err != nil {
		bp.DeleteInstance(instance.AutomationID)
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.registry.Create(r.Context(), def); err != nil {
		bp.DeleteInstance(instance.AutomationID)
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

	if err := s.engine.Register(def); err != nil {
		s.logger.Warn("stamped automation persisted but not registered with engine",
			"automation_id", def.ID, "error", err)
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"instance":   instance,
		"automation": def,
	})
}

// definitionFromInstance resolves a blueprint's component configs against an
// instance's parameter values and assembles a persistable Definition.
func (s *Server) definitionFromInstance(bp *automation.Blueprint, instance *automation.Instance) (*automation.Definition, error) {
	triggers, err := bp.InstantiateTriggers(instance.ParameterValues)
	if err != nil {
		return nil, err
	}
	conditions, err := bp.InstantiateConditions(instance.ParameterValues)
	if err != nil {
		return nil, err
	}
	actions, err := bp.InstantiateActions(instance.ParameterValues)
	if err != nil {
		return nil, err
	}

	def := &automation.Definition{
		ID:          instance.AutomationID,
		Name:        instance.Name,
		Description: bp.Description,
		Enabled:     true,
		BlueprintID: &bp.BlueprintID,
	}
	for _, t := range triggers {
		def.Triggers = append(def.Triggers, t.Serialize())
	}
	for _, c := range conditions {
		def.Conditions = append(def.Conditions, c.Serialize())
	}
	for _, a := range actions {
		def.Actions = append(def.Actions, a.Serialize())
	}
	return def, nil
}
