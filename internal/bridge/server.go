// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bridge

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/holostream/archivist/internal/log"
	"github.com/holostream/archivist/internal/model"
)

// runLeader listens on SocketPath, accepts follower connections, and
// forwards every job update published on the bus to all of them. On
// return the socket file is unlinked per spec.md §4.7 ("On leader
// shutdown, the socket file is unlinked so followers can race cleanly
// on the next start").
func (b *Bridge) runLeader(ctx context.Context) error {
	_ = os.Remove(b.SocketPath)
	ln, err := net.Listen("unix", b.SocketPath)
	if err != nil {
		return err
	}
	defer os.Remove(b.SocketPath)

	conns := &connRegistry{m: make(map[string]*ipcConn)}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go b.acceptLoop(ctx, ln, conns)

	if b.Bus != nil {
		sub, err := b.Bus.Subscribe(ctx, jobUpdatesTopic)
		if err != nil {
			return err
		}
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				conns.closeAll()
				return ctx.Err()
			case msg, ok := <-sub.C():
				if !ok {
					<-ctx.Done()
					conns.closeAll()
					return ctx.Err()
				}
				job, ok := msg.(*model.Job)
				if !ok {
					continue
				}
				conns.broadcast(envelope{Event: "ws_job_update", Data: mustMarshal(model.NewJobView(job))})
			}
		}
	}

	<-ctx.Done()
	conns.closeAll()
	return ctx.Err()
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return raw
}

type connRegistry struct {
	mu sync.Mutex
	m  map[string]*ipcConn
}

func (r *connRegistry) add(c *ipcConn) {
	r.mu.Lock()
	r.m[c.id] = c
	r.mu.Unlock()
}

func (r *connRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.m, id)
	r.mu.Unlock()
}

func (r *connRegistry) broadcast(env envelope) {
	r.mu.Lock()
	targets := make([]*ipcConn, 0, len(r.m))
	for _, c := range r.m {
		targets = append(targets, c)
	}
	r.mu.Unlock()
	for _, c := range targets {
		c.enqueue(env)
	}
}

func (r *connRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.m {
		c.close()
		delete(r.m, id)
	}
}

func (b *Bridge) acceptLoop(ctx context.Context, ln net.Listener, conns *connRegistry) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.L().Warn().Err(err).Msg("bridge: accept failed")
			continue
		}
		go b.handleFollower(conn, conns)
	}
}

// handleFollower performs the server side of the hello/hi handshake,
// then registers the connection and runs its read/write loops until
// disconnect.
func (b *Bridge) handleFollower(conn net.Conn, conns *connRegistry) {
	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	if _, err := conn.Write([]byte("hello")); err != nil {
		_ = conn.Close()
		return
	}
	reply := make([]byte, 2)
	if _, err := readFull(conn, reply); err != nil || string(reply) != "hi" {
		log.L().Debug().Msg("bridge: follower handshake failed or timed out")
		_ = conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	id := uuid.NewString()
	ic := newIPCConn(id, conn)
	conns.add(ic)
	log.L().Info().Str("conn", id).Msg("bridge: follower connected")

	go ic.writeLoop()
	ic.readLoop(func(envelope) {
		// Followers send nothing meaningful beyond the handshake; any
		// packet received here is dropped.
	})

	conns.remove(id)
	log.L().Info().Str("conn", id).Msg("bridge: follower disconnected")
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
