// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package wshub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/holostream/archivist/internal/log"
	"github.com/holostream/archivist/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 20 * time.Second
	maxMessageSize = 1 << 20
	sendQueueSize  = 256
)

// Client is one connected websocket peer. It owns exactly two goroutines
// (readPump, writePump); both exit and unregister the client from its
// Hub the moment either the connection or the keep-alive fails.
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan Packet
	done chan struct{}

	mu         sync.Mutex
	lastPingTS int64
	gotPong    bool

	closeOnce sync.Once
}

func newClient(hub *Hub, id string, conn *websocket.Conn) *Client {
	return &Client{
		ID:   id,
		hub:  hub,
		conn: conn,
		send: make(chan Packet, sendQueueSize),
		done: make(chan struct{}),
	}
}

// enqueue drops the packet and counts it rather than blocking a slow
// client's channel forever.
func (c *Client) enqueue(p Packet) {
	select {
	case c.send <- p:
	default:
		metrics.WSEventsDropped.WithLabelValues(p.Event).Inc()
		log.L().Warn().Str("sid", c.ID).Str("event", p.Event).Msg("wshub: client send queue full, dropping packet")
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump decodes inbound frames and hands "pong" replies to the
// keep-alive check; every other inbound event type is logged and
// dropped, since the external interface defines no client-originated
// commands beyond pong.
func (c *Client) readPump() {
	defer func() {
		// If the hub already stopped (c.done closed by closeAll), nothing
		// is left reading unregister; fall through instead of leaking
		// this goroutine on a blocked send.
		select {
		case c.hub.unregister <- c:
		case <-c.done:
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var pkt Packet
		if err := json.Unmarshal(raw, &pkt); err != nil {
			continue
		}
		switch pkt.Event {
		case "pong":
			c.handlePong(pkt.Data)
		default:
			log.L().Debug().Str("sid", c.ID).Str("event", pkt.Event).Msg("wshub: unrecognized client event")
		}
	}
}

func (c *Client) handlePong(data json.RawMessage) {
	var p pingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.SID == c.ID && p.T == c.lastPingTS {
		c.gotPong = true
	}
}

// writePump drains the send queue to the connection and, every
// pingInterval, emits an application-level ping carrying a timestamp and
// this client's session id. If the previous ping went unanswered by the
// time the next tick fires, the connection is force-closed with 1006 per
// the keep-alive contract.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case pkt, ok := <-c.send:
			if !ok {
				c.writeClose()
				return
			}
			if err := c.writeJSON(pkt); err != nil {
				return
			}
		case <-ticker.C:
			c.mu.Lock()
			unanswered := c.lastPingTS != 0 && !c.gotPong
			c.mu.Unlock()
			if unanswered {
				// 1006 is the reserved status a client observes when a
				// connection drops without a close handshake; we produce
				// that by closing the socket outright rather than
				// sending a close frame that names it.
				log.L().Warn().Str("sid", c.ID).Msg("wshub: ping timed out, dropping client")
				return
			}
			ts := time.Now().UnixMilli()
			c.mu.Lock()
			c.lastPingTS = ts
			c.gotPong = false
			c.mu.Unlock()
			if err := c.writeJSON(Packet{Event: "ping", Data: encode(pingPayload{T: ts, SID: c.ID})}); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) writeJSON(pkt Packet) error {
	raw, err := json.Marshal(pkt)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *Client) writeClose() {
	c.writeCloseCode(websocket.CloseNormalClosure)
}

func (c *Client) writeCloseCode(code int) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	msg := websocket.FormatCloseMessage(code, "")
	_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
}
