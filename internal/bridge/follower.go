// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bridge

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/holostream/archivist/internal/log"
	"github.com/holostream/archivist/internal/metrics"
)

// runFollower dials SocketPath, completes the client side of the
// hello/hi handshake, and re-emits every ws_-prefixed packet it receives
// into this process's own hub with the prefix stripped. It reconnects
// with a fixed backoff on any disconnect, since the leader may not have
// started listening yet or may restart mid-session.
func (b *Bridge) runFollower(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := net.Dial("unix", b.SocketPath)
		if err != nil {
			metrics.BridgeIPCReconnects.Inc()
			if sleepCtx(ctx, reconnectDelay) {
				return ctx.Err()
			}
			continue
		}

		if !b.handshakeClient(conn) {
			_ = conn.Close()
			metrics.BridgeIPCReconnects.Inc()
			if sleepCtx(ctx, reconnectDelay) {
				return ctx.Err()
			}
			continue
		}

		b.runFollowerConn(ctx, conn)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.BridgeIPCReconnects.Inc()
		if sleepCtx(ctx, reconnectDelay) {
			return ctx.Err()
		}
	}
}

func (b *Bridge) handshakeClient(conn net.Conn) bool {
	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	greeting := make([]byte, 5)
	if _, err := readFull(conn, greeting); err != nil || string(greeting) != "hello" {
		return false
	}
	if _, err := conn.Write([]byte("hi")); err != nil {
		return false
	}
	_ = conn.SetDeadline(time.Time{})
	return true
}

func (b *Bridge) runFollowerConn(ctx context.Context, conn net.Conn) {
	ic := newIPCConn("leader", conn)
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			ic.close()
		case <-stopWatch:
		}
	}()

	ic.readLoop(func(env envelope) {
		if !strings.HasPrefix(env.Event, "ws_") {
			return
		}
		if b.Hub == nil {
			return
		}
		b.Hub.Emit(strings.TrimPrefix(env.Event, "ws_"), env.Data, "")
	})
	log.L().Info().Msg("bridge: disconnected from leader")
}

// sleepCtx waits for d or ctx cancellation, whichever comes first,
// reporting whether ctx ended the wait.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}
