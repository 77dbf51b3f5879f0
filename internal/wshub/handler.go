// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package wshub

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/holostream/archivist/internal/log"
)

// Handler upgrades incoming HTTP requests to websocket connections and
// hands them to a Hub. It carries no auth of its own: spec.md §6 only
// requires auth on mutating HTTP endpoints, and the websocket connection
// itself is read-mostly (job/chat event fan-out plus pong replies).
type Handler struct {
	Hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler builds a Handler bound to hub. allowedOrigins mirrors the
// configured reverse-proxy origin(s); an empty slice allows every origin,
// matching a same-origin-by-default deployment with no proxy in front.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	h := &Handler{Hub: hub}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if allowed == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeHTTP upgrades the connection and registers it with the hub. The
// session id is a fresh random uuid per spec.md §4.6's "map session-id
// -> client".
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.L().Debug().Err(err).Msg("wshub: upgrade failed")
		return
	}
	h.Hub.Connect(conn, uuid.NewString())
}
