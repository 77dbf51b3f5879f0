// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holostream/archivist/internal/model"
)

func TestHandleListStatus(t *testing.T) {
	s, st, _ := newTestServer()
	_, err := st.UpsertJob(context.Background(), &model.Job{
		ID: "v1", Title: "first stream", Status: model.StatusWaiting,
		Platform: model.PlatformYouTube, StartTime: time.Unix(1700000000, 0),
	})
	require.NoError(t, err)
	_, err = st.UpsertJob(context.Background(), &model.Job{
		ID: "v2", Title: "done stream", Status: model.StatusDone,
		Platform: model.PlatformYouTube, StartTime: time.Unix(1700000001, 0),
	})
	require.NoError(t, err)

	handler := s.Router()

	t.Run("excludes done jobs by default", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var jobs []jobDTO
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
		require.Len(t, jobs, 1)
		assert.Equal(t, "v1", jobs[0].ID)
		assert.Equal(t, "waiting", jobs[0].Status)
	})

	t.Run("include_done=1 returns every job", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/status?include_done=1", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var jobs []jobDTO
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
		assert.Len(t, jobs, 2)
	})
}

func TestHandleGetStatus(t *testing.T) {
	s, st, _ := newTestServer()
	_, err := st.UpsertJob(context.Background(), &model.Job{
		ID: "v1", Title: "first stream", Status: model.StatusDownloading,
		Platform: model.PlatformTwitch, ChannelID: "chan1",
	})
	require.NoError(t, err)

	handler := s.Router()

	t.Run("found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/status/v1", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var dto jobDTO
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
		assert.Equal(t, "downloading", dto.Status)
		assert.Equal(t, "chan1", dto.ChannelID)
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/status/missing", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
