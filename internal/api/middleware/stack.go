// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package middleware is the HTTP ingress stack for the External
// Interfaces HTTP API (§6): recovery, request id, CORS, security
// headers, metrics, logging and rate limiting applied in a fixed order,
// grounded on the teacher's internal/api/middleware/stack.go.
package middleware

import (
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/go-chi/chi/v5"

	xglog "github.com/holostream/archivist/internal/log"
)

// StackConfig configures the canonical HTTP ingress middleware stack.
type StackConfig struct {
	EnableCORS     bool
	AllowedOrigins []string

	EnableSecurityHeaders bool
	CSP                   string

	EnableMetrics bool
	EnableLogging bool

	EnableRateLimit    bool
	RateLimitRPS       int
	RateLimitBurst     int
	RateLimitWhitelist []string
}

// NewRouter constructs a chi router with the canonical middleware stack applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack applies the canonical middleware stack to r.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	if cfg.EnableCORS {
		r.Use(CORS(cfg.AllowedOrigins))
	}
	if cfg.EnableSecurityHeaders {
		r.Use(SecurityHeaders(cfg.CSP))
	}
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	if cfg.EnableLogging {
		r.Use(xglog.Middleware())
	}
	if cfg.EnableRateLimit {
		r.Use(APIRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitWhitelist))
	}
}
