// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package wshub

import (
	"context"
	"sort"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/holostream/archivist/internal/bus"
	"github.com/holostream/archivist/internal/log"
	"github.com/holostream/archivist/internal/metrics"
	"github.com/holostream/archivist/internal/model"
	"github.com/holostream/archivist/internal/store"
)

// jobUpdatesTopic mirrors internal/lifecycle's unexported updatesTopic
// constant; the two packages agree on the string rather than sharing a
// symbol, and the bridge (C10), which re-publishes the same events
// across processes, declares the same string as well.
const jobUpdatesTopic = "job_updates"

const emitQueueSize = 1024

type outbound struct {
	pkt Packet
	to  string
}

// Hub maintains the registry of connected clients and is the only
// component that mutates it; every mutation happens inside Run's single
// dispatcher goroutine; Register/Unregister/Emit are safe to call from
// any other goroutine because they only ever write to channels.
type Hub struct {
	Store store.Store

	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	queue      chan outbound

	mu sync.RWMutex
}

// NewHub creates a Hub. Run must be started (usually as a goroutine) for
// clients to actually be registered or messages delivered.
func NewHub(st store.Store) *Hub {
	return &Hub{
		Store:      st,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		queue:      make(chan outbound, emitQueueSize),
	}
}

// Connect upgrades ownership of conn to the hub: it allocates a session
// id, starts the client's read/write pumps, and registers it. Callers
// (internal/api's websocket handler) own the *websocket.Conn upgrade
// itself; Connect only owns what happens after.
func (h *Hub) Connect(conn *websocket.Conn, sessionID string) {
	c := newClient(h, sessionID, conn)
	go c.writePump()
	go c.readPump()
	h.register <- c
}

// Emit enqueues data under event for delivery. When to is empty the
// packet is broadcast to every connected client; otherwise it is
// delivered to that one session id only (a no-op, silently, if that
// session is no longer connected).
func (h *Hub) Emit(event string, data any, to string) {
	pkt := Packet{Event: event, Data: encode(data), To: to}
	select {
	case h.queue <- outbound{pkt: pkt, to: to}:
	default:
		metrics.WSEventsDropped.WithLabelValues(event).Inc()
		log.L().Warn().Str("event", event).Msg("wshub: emit queue full, dropping packet")
	}
}

// ClientCount reports the number of currently registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run is the hub's single dispatcher: it owns the clients map outright,
// so every read and mutation of it happens on this goroutine. It also
// subscribes to the job-updates bus topic and turns every job state
// change into a job_update broadcast, which is how the Lifecycle Engine
// reaches connected clients without depending on this package.
//
// Priority selection (lifecycle events before broadcast delivery) keeps
// the client registry consistent before a burst of queued messages is
// drained against it, the same ordering discipline the teacher's
// process-group supervisor applies to its own event loop.
func (h *Hub) Run(ctx context.Context, b bus.Bus) error {
	var updates <-chan bus.Message
	if b != nil {
		sub, err := b.Subscribe(ctx, jobUpdatesTopic)
		if err != nil {
			return err
		}
		defer sub.Close()
		updates = sub.C()
	}

	for {
		select {
		case c := <-h.register:
			h.addClient(c)
			continue
		case c := <-h.unregister:
			h.removeClient(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()

		case c := <-h.register:
			h.addClient(c)

		case c := <-h.unregister:
			h.removeClient(c)

		case out := <-h.queue:
			h.deliver(out)

		case msg, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			job, ok := msg.(*model.Job)
			if !ok {
				continue
			}
			h.deliver(outbound{pkt: Packet{Event: "job_update", Data: encode(model.NewJobView(job))}})
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	metrics.WSClientsConnected.Inc()
	log.L().Info().Str("sid", c.ID).Int("clients", h.ClientCount()).Msg("wshub: client connected")

	h.sendConnectInit(c)
}

func (h *Hub) sendConnectInit(c *Client) {
	if h.Store == nil {
		return
	}
	jobs, err := h.Store.ListJobs(context.Background(), false)
	if err != nil {
		log.L().Warn().Err(err).Str("sid", c.ID).Msg("wshub: failed to load jobs for connect_job_init")
		return
	}
	views := make([]model.JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, model.NewJobView(j))
	}
	c.enqueue(Packet{Event: "connect_job_init", Data: encode(views)})
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	delete(h.clients, c.ID)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.close()
	metrics.WSClientsConnected.Dec()
	log.L().Info().Str("sid", c.ID).Int("clients", h.ClientCount()).Msg("wshub: client disconnected")
}

// deliver hands a packet to one client (out.to set) or every client
// (out.to empty), in deterministic session-id order, so test assertions
// and logs are reproducible. A full client send queue only drops that
// one client's copy of the packet; it never blocks the dispatcher.
func (h *Hub) deliver(out outbound) {
	h.mu.RLock()
	var targets []*Client
	if out.to != "" {
		if c, ok := h.clients[out.to]; ok {
			targets = []*Client{c}
		}
	} else {
		targets = make([]*Client, 0, len(h.clients))
		for _, c := range h.clients {
			targets = append(targets, c)
		}
		sort.Slice(targets, func(i, j int) bool { return targets[i].ID < targets[j].ID })
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(out.pkt)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		h.clients[id].close()
		delete(h.clients, id)
	}
	log.L().Info().Int("clients_closed", len(ids)).Msg("wshub: hub stopped")
}
