// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bridge is the Multi-Process Bridge (C10): advisory-flock
// leader election plus a unix-domain-socket IPC layer that lets a leader
// process forward job/chat events to every follower process's own
// websocket hub, so a process group behind one reverse proxy shares a
// single event stream without racing on job execution. Grounded on
// original_source/internals/db/ipc.py's framing and connection lifecycle
// (asyncio streams there, net.Conn + goroutines here); leader election
// itself has no teacher or pack analogue and is built directly from
// spec.md §4.7's description.
package bridge

import (
	"context"
	"time"

	"github.com/holostream/archivist/internal/bus"
	"github.com/holostream/archivist/internal/log"
	"github.com/holostream/archivist/internal/metrics"
	"github.com/holostream/archivist/internal/wshub"
)

// jobUpdatesTopic mirrors internal/lifecycle's updatesTopic and
// internal/wshub's jobUpdatesTopic constants; all three declare the
// same bare string rather than sharing one exported constant.
const jobUpdatesTopic = "job_updates"

const reconnectDelay = 2 * time.Second

// Bridge owns leader election and, depending on the outcome, either the
// IPC server (leader) or the IPC client loop (follower) for this
// process's lifetime.
type Bridge struct {
	// LockPath is the advisory-flock file every process in the group
	// contends for at startup.
	LockPath string
	// SocketPath is the unix-domain socket the leader listens on and
	// followers dial.
	SocketPath string

	// Hub is this process's own websocket hub; a follower re-emits
	// every ws_-prefixed IPC packet into it.
	Hub *wshub.Hub
	// Bus is this process's event bus; the leader subscribes to
	// jobUpdatesTopic and forwards every job update to all IPC
	// connections. The follower role does not read it.
	Bus bus.Bus

	// OnRole, if set, is called once with the outcome of the advisory
	// flock election, before Run dispatches into runLeader/runFollower.
	// spec.md §4.7 restricts the Lifecycle Engine, Autoscheduler,
	// Dataset watcher/refresher, and Chat Capture dispatcher to the
	// leader process only; this is how the process bootstrap learns
	// which role it won so it can gate those subsystems.
	OnRole func(isLeader bool)
}

// Run blocks for the process's lifetime, running either the leader or
// follower role depending on who wins the advisory lock. It returns when
// ctx is cancelled (or on an unrecoverable setup error).
func (b *Bridge) Run(ctx context.Context) error {
	lk, isLeader, err := acquireLeadership(b.LockPath)
	if err != nil {
		return err
	}

	role := "follower"
	if isLeader {
		role = "leader"
	}
	metrics.BridgeRole.WithLabelValues("leader").Set(boolToFloat(isLeader))
	metrics.BridgeRole.WithLabelValues("follower").Set(boolToFloat(!isLeader))
	log.L().Info().Str("role", role).Msg("bridge: role determined")

	if b.OnRole != nil {
		b.OnRole(isLeader)
	}

	if !isLeader {
		return b.runFollower(ctx)
	}
	defer lk.release()
	return b.runLeader(ctx)
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
