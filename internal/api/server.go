// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api is the External Interfaces HTTP API (§6): a thin REST
// surface over the job store and the autoscheduler rule set, plus the
// websocket upgrade endpoint. Routing and the middleware stack are
// grounded on the teacher's internal/api package (chi + a fixed
// ingress-middleware order); the handlers themselves are new, since the
// teacher's own handlers serve an unrelated IPTV/EPG domain. Request/
// response shapes are grounded on
// original_source/internals/routes/{schedule,status,auto_scheduler,records}.py.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/holostream/archivist/internal/api/middleware"
	"github.com/holostream/archivist/internal/audit"
	"github.com/holostream/archivist/internal/bus"
	"github.com/holostream/archivist/internal/discovery"
	"github.com/holostream/archivist/internal/log"
	"github.com/holostream/archivist/internal/notify"
	"github.com/holostream/archivist/internal/records"
	"github.com/holostream/archivist/internal/store"
	"github.com/holostream/archivist/internal/wshub"
)

// Config holds the parts of the API's behavior that vary by deployment.
type Config struct {
	// Password is the shared secret mutating endpoints require (spec.md
	// §6: "matched against configured secret"). Empty means auth is
	// disabled: every endpoint, including mutating ones, is open. This
	// mirrors the teacher's fail-closed default being an explicit,
	// logged opt-out rather than a silent one (see RequireAuth).
	Password string

	AllowedOrigins []string
	RateLimitRPS   int
	RateLimitBurst int
}

// Server wires the job store, discovery, the websocket hub, and the
// records index into an HTTP handler.
type Server struct {
	Store     store.Store
	Discovery discovery.Client
	Bus       bus.Bus
	Hub       *wshub.Hub
	Records   *records.Index
	Notifier  *notify.Notifier
	// Audit records WHO/WHAT/WHEN for auth decisions and mutating
	// requests (schedule, delete, rule CRUD). Nil is a valid zero
	// value — tests and any caller that doesn't care about an audit
	// trail simply leave it unset, matching Notifier's own optional
	// wiring.
	Audit  *audit.Logger
	Config Config
}

// Router builds the full chi.Mux: middleware stack, the websocket
// upgrade endpoint, the health check, and every /api/* route from
// spec.md §6's table.
func (s *Server) Router() http.Handler {
	if s.Config.Password == "" {
		log.L().Warn().Msg("api: no password configured, mutating endpoints are unauthenticated")
	}

	r := middleware.NewRouter(middleware.StackConfig{
		EnableCORS:            true,
		AllowedOrigins:        s.Config.AllowedOrigins,
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		EnableLogging:         true,
		EnableRateLimit:       s.Config.RateLimitRPS > 0,
		RateLimitRPS:          s.Config.RateLimitRPS,
		RateLimitBurst:        s.Config.RateLimitBurst,
	})

	r.Get("/", s.handleHealth)
	r.Handle("/ws", wshub.NewHandler(s.Hub, s.Config.AllowedOrigins))

	r.Route("/api", func(r chi.Router) {
		r.With(s.RequireAuth).Post("/schedule", s.handlePostSchedule)
		r.With(s.RequireAuth).Delete("/schedule/{id}", s.handleDeleteSchedule)
		r.Get("/status", s.handleListStatus)
		r.Get("/status/{id}", s.handleGetStatus)

		r.Get("/auto-scheduler", s.handleListAutoRules)
		r.With(s.RequireAuth).Post("/auto-scheduler", s.handleCreateAutoRule)
		r.With(s.RequireAuth).Patch("/auto-scheduler/{id}", s.handlePatchAutoRule)
		r.With(s.RequireAuth).Delete("/auto-scheduler/{id}", s.handleDeleteAutoRule)

		r.Get("/records", s.handleRecords)
	})

	return r
}
