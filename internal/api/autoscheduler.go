// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/holostream/archivist/internal/audit"
	"github.com/holostream/archivist/internal/model"
	"github.com/holostream/archivist/internal/store"
)

type autoRuleChainRequest struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// Chains may arrive as a single {"type","data"} object or an array of
// them; it is decoded as json.RawMessage and shape-sniffed by parseChains.
type autoRuleRequest struct {
	Type    string          `json:"type"`
	Data    string          `json:"data"`
	Include *bool           `json:"include"`
	Chains  json.RawMessage `json:"chains"`
}

var autoRuleTypes = map[string]model.AutoRuleType{
	"channel":    model.RuleTypeChannel,
	"group":      model.RuleTypeGroup,
	"word":       model.RuleTypeWord,
	"regex_word": model.RuleTypeRegexWord,
}

func chainableType(t model.AutoRuleType) bool {
	return t == model.RuleTypeWord || t == model.RuleTypeRegexWord
}

// handleListAutoRules is GET /api/auto-scheduler, grounded on
// original_source/internals/routes/auto_scheduler.py's get_auto_scheduler:
// the flat rule table is partitioned into include/exclude buckets by the
// handler rather than stored pre-partitioned.
func (s *Server) handleListAutoRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.Store.ListAutoRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list auto-scheduler rules")
		return
	}

	include := make([]autoRuleDTO, 0)
	exclude := make([]autoRuleDTO, 0)
	for _, rule := range rules {
		dto := newAutoRuleDTO(rule)
		if rule.Include {
			include = append(include, dto)
		} else {
			exclude = append(exclude, dto)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"include": include, "exclude": exclude})
}

// parseChains decodes the request's chains field, which the upstream
// sender may submit as a single object or an array of objects, into a
// validated list. An empty/absent chains field yields a nil, non-error
// result (chains are optional).
func parseChains(raw json.RawMessage, ruleType model.AutoRuleType) ([]model.ChainEntry, error) {
	if len(raw) == 0 || string(raw) == "null" || !chainableType(ruleType) {
		return nil, nil
	}

	var single autoRuleChainRequest
	if err := json.Unmarshal(raw, &single); err == nil && single.Type != "" {
		entry, err := validateChainEntry(single, 0)
		if err != nil {
			return nil, err
		}
		return []model.ChainEntry{entry}, nil
	}

	var list []autoRuleChainRequest
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, nil // malformed chains is silently ignored, matching the original's best-effort parse
	}
	chains := make([]model.ChainEntry, 0, len(list))
	for i, c := range list {
		entry, err := validateChainEntry(c, i)
		if err != nil {
			return nil, err
		}
		chains = append(chains, entry)
	}
	return chains, nil
}

func validateChainEntry(c autoRuleChainRequest, idx int) (model.ChainEntry, error) {
	if c.Type == "" {
		return model.ChainEntry{}, fmt.Errorf("missing type for chains.%d", idx)
	}
	if c.Data == "" {
		return model.ChainEntry{}, fmt.Errorf("missing data for chains.%d", idx)
	}
	t, ok := autoRuleTypes[c.Type]
	if !ok {
		return model.ChainEntry{}, fmt.Errorf("invalid type for chains.%d", idx)
	}
	return model.ChainEntry{Type: t, Data: c.Data}, nil
}

// handleCreateAutoRule is POST /api/auto-scheduler.
func (s *Server) handleCreateAutoRule(w http.ResponseWriter, r *http.Request) {
	var req autoRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "missing type")
		return
	}
	data := strings.TrimSpace(req.Data)
	if data == "" {
		writeError(w, http.StatusBadRequest, "missing data")
		return
	}
	ruleType, ok := autoRuleTypes[req.Type]
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid type, must be `channel`, `group`, `word`, `regex_word`")
		return
	}
	chains, err := parseChains(req.Chains, ruleType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	include := true
	if req.Include != nil {
		include = *req.Include
	}

	rule := &model.AutoRule{
		ID:      uuid.NewString(),
		Type:    ruleType,
		Data:    data,
		Include: include,
		Chains:  chains,
	}
	if err := s.Store.InsertAutoRule(r.Context(), rule); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create auto-scheduler rule")
		return
	}
	s.auditRuleChange(r, "auto_rule_create", rule.ID)
	writeJSON(w, http.StatusOK, newAutoRuleDTO(rule))
}

// handlePatchAutoRule is PATCH /api/auto-scheduler/{id}, grounded on
// original_source's patch_auto_scheduler: a genuine no-op patch (nothing
// in the request would change anything) is rejected with 400 rather than
// silently accepted.
func (s *Server) handlePatchAutoRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req autoRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Type == "" && req.Data == "" && req.Include == nil && len(req.Chains) == 0 {
		writeError(w, http.StatusBadRequest, "no data will be changed, please make sure you're providing the correct data")
		return
	}

	updated, err := s.Store.UpdateAutoRule(r.Context(), id, func(rule *model.AutoRule) error {
		if req.Type != "" {
			t, ok := autoRuleTypes[req.Type]
			if !ok {
				return fmt.Errorf("invalid type, must be `channel`, `group`, `word`, `regex_word`")
			}
			rule.Type = t
		}
		if req.Data != "" {
			rule.Data = req.Data
		}
		if req.Include != nil {
			rule.Include = *req.Include
		}
		if len(req.Chains) > 0 {
			chains, err := parseChains(req.Chains, rule.Type)
			if err != nil {
				return err
			}
			if len(chains) > 0 {
				rule.Chains = chains
			}
		}
		return nil
	})
	if err != nil {
		switch err {
		case store.ErrNotFound:
			writeError(w, http.StatusNotFound, "auto-scheduler rule not found")
		case store.ErrNoOpUpdate:
			writeError(w, http.StatusBadRequest, "no data will be changed, please make sure you're providing the correct data")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	s.auditRuleChange(r, "auto_rule_update", id)
	writeJSON(w, http.StatusOK, newAutoRuleDTO(updated))
}

// handleDeleteAutoRule is DELETE /api/auto-scheduler/{id}.
func (s *Server) handleDeleteAutoRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rules, err := s.Store.ListAutoRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list auto-scheduler rules")
		return
	}
	var found *model.AutoRule
	for _, rule := range rules {
		if rule.ID == id {
			found = rule
			break
		}
	}
	if found == nil {
		writeError(w, http.StatusNotFound, "auto-scheduler rule not found")
		return
	}

	if err := s.Store.DeleteAutoRule(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete auto-scheduler rule")
		return
	}
	s.auditRuleChange(r, "auto_rule_delete", id)
	writeJSON(w, http.StatusOK, map[string]string{"id": found.ID, "type": string(found.Type), "data": found.Data})
}

// auditRuleChange records a rule-table mutation, if an audit logger is
// configured.
func (s *Server) auditRuleChange(r *http.Request, action, ruleID string) {
	if s.Audit == nil {
		return
	}
	s.Audit.Log(audit.Event{
		Type:     audit.EventAPIAccess,
		Actor:    r.RemoteAddr,
		Action:   action,
		Resource: "auto_rule:" + ruleID,
		Result:   "success",
	})
}
