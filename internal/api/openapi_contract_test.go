// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers/legacy"
	"github.com/stretchr/testify/require"

	"github.com/holostream/archivist/internal/model"
)

var (
	openapiOnce sync.Once
	openapiDoc  *openapi3.T
	openapiErr  error
)

// loadOpenAPIDoc loads and validates openapi.yaml once per test binary,
// grounded on the teacher's contract_v3_test.go loadOpenAPIDoc.
func loadOpenAPIDoc(t *testing.T) *openapi3.T {
	t.Helper()
	openapiOnce.Do(func() {
		loader := openapi3.NewLoader()
		doc, err := loader.LoadFromFile("openapi.yaml")
		if err != nil {
			openapiErr = err
			return
		}
		if err := doc.Validate(context.Background()); err != nil {
			openapiErr = err
			return
		}
		openapiDoc = doc
	})
	require.NoError(t, openapiErr)
	return openapiDoc
}

// validateAgainstContract asserts the response body matches openapi.yaml's
// schema for req's route, grounded on the teacher's
// validateOpenAPIResponse (request validation is skipped there too: the
// request body has already been consumed by the handler by the time the
// test gets to assert on the response).
func validateAgainstContract(t *testing.T, doc *openapi3.T, req *http.Request, rec *httptest.ResponseRecorder) {
	t.Helper()
	router, err := legacy.NewRouter(doc)
	require.NoError(t, err)

	route, pathParams, err := router.FindRoute(req)
	require.NoError(t, err)

	respInput := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: pathParams,
			Route:      route,
		},
		Status: rec.Code,
		Header: rec.Header(),
	}
	respInput.SetBodyBytes(rec.Body.Bytes())
	require.NoError(t, openapi3filter.ValidateResponse(context.Background(), respInput))
}

func TestContract_ScheduleAndStatus(t *testing.T) {
	doc := loadOpenAPIDoc(t)
	s, _, disco := newTestServer()
	disco.Videos = []model.Video{{ID: "vid-1", Title: "Stream", ChannelID: "ch-1"}}
	handler := s.Router()

	postReq := httptest.NewRequest(http.MethodPost, "/api/schedule", bytes.NewReader([]byte(`{"id":"vid-1"}`)))
	postReq.Header.Set("Content-Type", "application/json")
	postRec := httptest.NewRecorder()
	handler.ServeHTTP(postRec, postReq)
	require.Equal(t, http.StatusOK, postRec.Code)
	validateAgainstContract(t, doc, postReq, postRec)

	getReq := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
	validateAgainstContract(t, doc, getReq, getRec)
}

func TestContract_AutoRuleCreate(t *testing.T) {
	doc := loadOpenAPIDoc(t)
	s, _, _ := newTestServer()
	handler := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/auto-scheduler", bytes.NewReader([]byte(`{"type":"channel","data":"ch-1"}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	validateAgainstContract(t, doc, req, rec)
}
