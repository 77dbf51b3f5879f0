// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package wshub

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/holostream/archivist/internal/bus"
	"github.com/holostream/archivist/internal/model"
	"github.com/holostream/archivist/internal/store"
)

func newTestServer(t *testing.T, hub *Hub) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(NewHandler(hub, nil))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readPacket(t *testing.T, conn *websocket.Conn) Packet {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var pkt Packet
	require.NoError(t, json.Unmarshal(raw, &pkt))
	return pkt
}

func TestConnect_SendsConnectJobInitWithNonDoneJobs(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	_, err := st.UpsertJob(ctx, &model.Job{ID: "j1", Status: model.StatusWaiting})
	require.NoError(t, err)
	_, err = st.UpsertJob(ctx, &model.Job{ID: "j2", Status: model.StatusDone})
	require.NoError(t, err)

	hub := NewHub(st)
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go hub.Run(hctx, nil)

	_, url := newTestServer(t, hub)
	conn := dial(t, url)

	pkt := readPacket(t, conn)
	require.Equal(t, "connect_job_init", pkt.Event)

	var jobs []*model.Job
	require.NoError(t, json.Unmarshal(pkt.Data, &jobs))
	require.Len(t, jobs, 1)
	require.Equal(t, "j1", jobs[0].ID)
}

func TestHub_BroadcastsJobUpdatesFromBus(t *testing.T) {
	st := store.NewMemoryStore()
	b := bus.NewMemoryBus()
	hub := NewHub(st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx, b)

	_, url := newTestServer(t, hub)
	conn := dial(t, url)
	require.Equal(t, "connect_job_init", readPacket(t, conn).Event)

	require.NoError(t, b.Publish(ctx, jobUpdatesTopic, &model.Job{ID: "j9", Status: model.StatusDownloading}))

	pkt := readPacket(t, conn)
	require.Equal(t, "job_update", pkt.Event)
	var job model.Job
	require.NoError(t, json.Unmarshal(pkt.Data, &job))
	require.Equal(t, "j9", job.ID)
}

func TestHub_EmitToSpecificClientDoesNotReachOthers(t *testing.T) {
	st := store.NewMemoryStore()
	hub := NewHub(st)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx, nil)

	_, url := newTestServer(t, hub)
	connA := dial(t, url)
	connB := dial(t, url)
	require.Equal(t, "connect_job_init", readPacket(t, connA).Event)
	require.Equal(t, "connect_job_init", readPacket(t, connB).Event)

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	var targetID string
	hub.mu.RLock()
	for id := range hub.clients {
		targetID = id
		break
	}
	hub.mu.RUnlock()

	hub.Emit("job_delete", map[string]string{"id": "zzz"}, targetID)

	connA.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	connB.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	aGot, bGot := 0, 0
	if _, _, err := connA.ReadMessage(); err == nil {
		aGot++
	}
	if _, _, err := connB.ReadMessage(); err == nil {
		bGot++
	}
	require.Equal(t, 1, aGot+bGot, "a targeted emit must reach exactly one client")
}

func TestClient_RepliesPongKeepsConnectionAlive(t *testing.T) {
	st := store.NewMemoryStore()
	hub := NewHub(st)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx, nil)

	_, url := newTestServer(t, hub)
	conn := dial(t, url)
	require.Equal(t, "connect_job_init", readPacket(t, conn).Event)

	_ = conn.SetReadDeadline(time.Now().Add(25 * time.Second))
	pkt := readPacket(t, conn)
	require.Equal(t, "ping", pkt.Event)

	var payload pingPayload
	require.NoError(t, json.Unmarshal(pkt.Data, &payload))

	pong := Packet{Event: "pong", Data: encode(payload)}
	raw, err := json.Marshal(pong)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 500*time.Millisecond, 10*time.Millisecond)
}

func TestDeliver_DropsPacketForFullClientQueueWithoutBlocking(t *testing.T) {
	st := store.NewMemoryStore()
	hub := NewHub(st)
	c := newClient(hub, "full1", nil)
	for i := 0; i < sendQueueSize; i++ {
		c.send <- Packet{Event: "x"}
	}
	// Must not block or panic even though the channel is completely full.
	c.enqueue(Packet{Event: "overflow"})
}
