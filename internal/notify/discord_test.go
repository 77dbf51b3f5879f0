// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/holostream/archivist/internal/model"
)

func TestNotifier_EmptyWebhookIsNoOp(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	n := New("")
	n.NotifySchedule(context.Background(), &model.Job{ID: "abc"})
	require.EqualValues(t, 0, atomic.LoadInt32(&hits))
}

func TestNotifier_NotifySchedulePostsEmbed(t *testing.T) {
	var received payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	n.NotifySchedule(context.Background(), &model.Job{ID: "abc123", Filename: "[2026.7.30.abc123] Stream"})

	require.Len(t, received.Embeds, 1)
	require.Contains(t, received.Embeds[0].Description, "abc123")
}

func TestNotifier_NotifyUpdateSkipsUnmappedStatuses(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	n.NotifyUpdate(context.Background(), &model.Job{ID: "abc", Status: model.StatusWaiting})
	require.EqualValues(t, 0, atomic.LoadInt32(&hits))

	n.NotifyUpdate(context.Background(), &model.Job{ID: "abc", Status: model.StatusDone})
	require.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestNotifier_NotifyUpdateErrorIncludesMessage(t *testing.T) {
	var received payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	n.NotifyUpdate(context.Background(), &model.Job{ID: "abc", Status: model.StatusError, Error: "exit code 1"})

	require.Len(t, received.Embeds, 1)
	require.Contains(t, received.Embeds[0].Description, "exit code 1")
}
