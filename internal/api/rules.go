package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/oikomaticz/oikomaticz-core/internal/audit"
	"github.com/oikomaticz/oikomaticz-core/internal/eventsystem"
)

const (
	defaultExecutionLimit = 50
	maxExecutionLimit     = 500
)

// ruleRequest is the writable part of a rule.
type ruleRequest struct {
	Name        string               `json:"name"`
	Description *string              `json:"description,omitempty"`
	Enabled     *bool                `json:"enabled,omitempty"`
	Trigger     eventsystem.Trigger  `json:"trigger"`
	Actions     []eventsystem.Action `json:"actions"`
	CooldownS   int                  `json:"cooldown_s"`
}

func (req *ruleRequest) apply(rule *eventsystem.Rule) {
	rule.Name = req.Name
	rule.Description = req.Description
	rule.Trigger = req.Trigger
	rule.Actions = req.Actions
	rule.CooldownS = req.CooldownS
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
}

func (s *Server) rulesAvailable(w http.ResponseWriter) bool {
	if s.rules == nil {
		writeUnavailable(w, "rule engine is not enabled")
		return false
	}
	return true
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	if !s.rulesAvailable(w) {
		return
	}
	rules := s.rules.ListRules(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	if !s.rulesAvailable(w) {
		return
	}
	rule, err := s.rules.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	if !s.rulesAvailable(w) {
		return
	}
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rule := &eventsystem.Rule{Enabled: true}
	req.apply(rule)
	if err := s.rules.CreateRule(r.Context(), rule); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.record(r, audit.ActionCreate, audit.EntityRule, rule.ID, map[string]any{"name": rule.Name})
	writeJSON(w, http.StatusCreated, rule)
}

// handleUpdateRule replaces a rule's definition.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	if !s.rulesAvailable(w) {
		return
	}
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rule, err := s.rules.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	req.apply(rule)
	if err := s.rules.UpdateRule(r.Context(), rule); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.record(r, audit.ActionUpdate, audit.EntityRule, rule.ID, map[string]any{"name": rule.Name, "enabled": rule.Enabled})
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if !s.rulesAvailable(w) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.rules.DeleteRule(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.record(r, audit.ActionDelete, audit.EntityRule, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleTriggerRule runs a rule now. The actions run in the background;
// the response carries the execution ID to poll.
func (s *Server) handleTriggerRule(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeUnavailable(w, "rule engine is not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	execID, err := s.runner.Trigger(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.record(r, audit.ActionTrigger, audit.EntityRule, id, map[string]any{"execution_id": execID})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"rule_id":      id,
		"execution_id": execID,
	})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if s.executions == nil {
		writeUnavailable(w, "rule engine is not enabled")
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultExecutionLimit
	}
	limit = min(limit, maxExecutionLimit)

	execs, err := s.executions.ListExecutions(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if execs == nil {
		execs = []eventsystem.Execution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"executions": execs,
		"count":      len(execs),
	})
}
