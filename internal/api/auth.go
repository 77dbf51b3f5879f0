// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/holostream/archivist/internal/auth"
	"github.com/holostream/archivist/internal/log"
)

// RequireAuth enforces spec.md §6's "mutating endpoints require auth":
// an Authorization: Password <secret> header, or the X-Auth-Token/
// X-Password equivalents, checked with a constant-time comparison
// against Config.Password. Grounded on the teacher's authMiddleware
// (internal/api/auth.go), adapted from its Bearer-token scheme to this
// spec's Password scheme, and from its fail-closed-when-unset default
// to an explicit opt-out: an empty Config.Password disables auth
// entirely rather than rejecting every request, since spec.md has no
// "auth explicitly disabled" flag of its own to gate on.
func (s *Server) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Config.Password == "" {
			next.ServeHTTP(w, r)
			return
		}

		got := auth.ExtractToken(r, false)
		if got == "" {
			log.L().Warn().Str("path", r.URL.Path).Msg("api: missing auth credential")
			if s.Audit != nil {
				s.Audit.AuthMissing(r.RemoteAddr, r.URL.Path)
			}
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !auth.AuthorizeToken(got, s.Config.Password) {
			log.L().Warn().Str("path", r.URL.Path).Msg("api: invalid auth credential")
			if s.Audit != nil {
				s.Audit.AuthFailure(r.RemoteAddr, r.URL.Path, "credential mismatch")
			}
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if s.Audit != nil {
			s.Audit.AuthSuccess(r.RemoteAddr, r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}
