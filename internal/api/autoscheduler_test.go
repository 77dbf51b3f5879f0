// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holostream/archivist/internal/model"
)

func TestHandleCreateAndListAutoRules(t *testing.T) {
	s, _, _ := newTestServer()
	handler := s.Router()

	body, _ := json.Marshal(map[string]any{"type": "channel", "data": "UCxxxx"})
	req := httptest.NewRequest(http.MethodPost, "/api/auto-scheduler", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var created autoRuleDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.Include)

	listReq := httptest.NewRequest(http.MethodGet, "/api/auto-scheduler", nil)
	listRec := httptest.NewRecorder()
	handler.ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)

	var out map[string][]autoRuleDTO
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &out))
	require.Len(t, out["include"], 1)
	assert.Equal(t, created.ID, out["include"][0].ID)
}

func TestHandleCreateAutoRule_InvalidType(t *testing.T) {
	s, _, _ := newTestServer()
	handler := s.Router()

	body, _ := json.Marshal(map[string]any{"type": "bogus", "data": "x"})
	req := httptest.NewRequest(http.MethodPost, "/api/auto-scheduler", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateAutoRule_WithChains(t *testing.T) {
	s, _, _ := newTestServer()
	handler := s.Router()

	body, _ := json.Marshal(map[string]any{
		"type": "word", "data": "debut",
		"chains": []map[string]any{{"type": "channel", "data": "UCxxxx"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/auto-scheduler", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var created autoRuleDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Len(t, created.Chains, 1)
	assert.Equal(t, "channel", created.Chains[0].Type)
}

func TestHandlePatchAutoRule(t *testing.T) {
	s, st, _ := newTestServer()
	rule := &model.AutoRule{ID: "r1", Type: model.RuleTypeChannel, Data: "UCold", Include: true}
	require.NoError(t, st.InsertAutoRule(context.Background(), rule))
	handler := s.Router()

	t.Run("patches data", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{"data": "UCnew"})
		req := httptest.NewRequest(http.MethodPatch, "/api/auto-scheduler/r1", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var dto autoRuleDTO
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
		assert.Equal(t, "UCnew", dto.Data)
	})

	t.Run("empty patch is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/api/auto-scheduler/r1", bytes.NewReader([]byte(`{}`)))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown id", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{"data": "x"})
		req := httptest.NewRequest(http.MethodPatch, "/api/auto-scheduler/missing", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleDeleteAutoRule(t *testing.T) {
	s, st, _ := newTestServer()
	rule := &model.AutoRule{ID: "r1", Type: model.RuleTypeChannel, Data: "UCold", Include: true}
	require.NoError(t, st.InsertAutoRule(context.Background(), rule))
	handler := s.Router()

	req := httptest.NewRequest(http.MethodDelete, "/api/auto-scheduler/r1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rules, err := st.ListAutoRules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rules)

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, httptest.NewRequest(http.MethodDelete, "/api/auto-scheduler/r1", nil))
	assert.Equal(t, http.StatusNotFound, rec2.Code)
}
