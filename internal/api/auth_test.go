// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequireAuth(t *testing.T) {
	tests := []struct {
		name           string
		password       string
		headerKey      string
		headerVal      string
		expectedStatus int
	}{
		{
			// Auth disabled reaches the handler directly, which then
			// 404s on the unresolvable video id.
			name:           "no password configured, auth disabled",
			password:       "",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "password configured, no header, rejected",
			password:       "secret",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "password configured, wrong header, rejected",
			password:       "secret",
			headerKey:      "Authorization",
			headerVal:      "Password wrong",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			// Correct credentials clear RequireAuth and reach
			// handlePostSchedule, which then 404s on the unresolvable
			// video id — the point is that auth no longer blocks it.
			name:           "password configured, correct Authorization header, reaches handler",
			password:       "secret",
			headerKey:      "Authorization",
			headerVal:      "Password secret",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "password configured, correct X-Password header, reaches handler",
			password:       "secret",
			headerKey:      "X-Password",
			headerVal:      "secret",
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, disco := newTestServer()
			s.Config.Password = tt.password
			disco.Videos = nil
			handler := s.Router()

			body, _ := json.Marshal(scheduleRequest{ID: "nonexistent"})
			req := httptest.NewRequest(http.MethodPost, "/api/schedule", bytes.NewReader(body))
			if tt.headerKey != "" {
				req.Header.Set(tt.headerKey, tt.headerVal)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
		})
	}
}

func TestRequireAuth_ReadEndpointsNeverGated(t *testing.T) {
	s, _, _ := newTestServer()
	s.Config.Password = "secret"
	handler := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
