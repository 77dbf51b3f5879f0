// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bridge

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/holostream/archivist/internal/bus"
	"github.com/holostream/archivist/internal/model"
	"github.com/holostream/archivist/internal/store"
	"github.com/holostream/archivist/internal/wshub"
)

func TestAcquireLeadership_OnlyOneWinnerAtATime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archivist.lock")

	lk1, isLeader1, err := acquireLeadership(path)
	require.NoError(t, err)
	require.True(t, isLeader1)

	_, isLeader2, err := acquireLeadership(path)
	require.NoError(t, err)
	require.False(t, isLeader2, "a second process must not win leadership while the first holds the lock")

	require.NoError(t, lk1.release())

	lk3, isLeader3, err := acquireLeadership(path)
	require.NoError(t, err)
	require.True(t, isLeader3, "releasing the lock must let the next contender become leader")
	require.NoError(t, lk3.release())
}

func waitForSocket(t *testing.T, path string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("socket %s never appeared", path)
}

func TestBridge_LeaderForwardsJobUpdatesToFollowerHub(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "archivist.sock")
	b := bus.NewMemoryBus()

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	defer cancelLeader()
	leader := &Bridge{SocketPath: sockPath, Bus: b}
	go leader.runLeader(leaderCtx)
	waitForSocket(t, sockPath, 2*time.Second)

	st := store.NewMemoryStore()
	hub := wshub.NewHub(st)
	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()
	go hub.Run(hubCtx, nil)

	follower := &Bridge{SocketPath: sockPath, Hub: hub}
	followerCtx, cancelFollower := context.WithCancel(context.Background())
	defer cancelFollower()
	go follower.runFollower(followerCtx)

	srv := httptest.NewServer(wshub.NewHandler(hub, nil))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Drain connect_job_init.
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_ = b.Publish(context.Background(), jobUpdatesTopic, &model.Job{ID: "cross-process-1", Status: model.StatusDownloading})

		_ = conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return false
		}
		var pkt wshub.Packet
		if json.Unmarshal(raw, &pkt) != nil {
			return false
		}
		if pkt.Event != "job_update" {
			return false
		}
		var job model.Job
		if json.Unmarshal(pkt.Data, &job) != nil {
			return false
		}
		return job.ID == "cross-process-1"
	}, 5*time.Second, 100*time.Millisecond, "a job update published on the leader's bus must reach the follower's local websocket clients")
}

func TestHandshake_RejectsWrongReply(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "archivist.sock")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	leader := &Bridge{SocketPath: sockPath}
	go leader.runLeader(ctx)
	waitForSocket(t, sockPath, 2*time.Second)

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()

	greeting := make([]byte, 5)
	_, err = readFull(conn, greeting)
	require.NoError(t, err)
	require.Equal(t, "hello", string(greeting))

	_, err = conn.Write([]byte("no"))
	require.NoError(t, err)

	// The server must close the connection rather than register it.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err)
}
