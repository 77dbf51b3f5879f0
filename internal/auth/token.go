// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/holostream/archivist/internal/log"
)

// ExtractToken retrieves the API password from the request, checking each
// accepted location in order:
// 1. Authorization: Password <secret>
// 2. Header: X-Auth-Token
// 3. Header: X-Password
// allowQuery additionally accepts ?token=, logged as deprecated since it
// leaks into proxy/browser history.
func ExtractToken(r *http.Request, allowQuery bool) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Password ") {
		return strings.TrimSpace(auth[len("Password "):])
	}

	if t := r.Header.Get("X-Auth-Token"); t != "" {
		return t
	}

	if t := r.Header.Get("X-Password"); t != "" {
		return t
	}

	if allowQuery {
		if t := r.URL.Query().Get("token"); t != "" {
			log.L().Warn().
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("DEPRECATED: Query parameter authentication is insecure (tokens logged in proxies/browsers) and will be removed in a future release. Use the Authorization header instead.")
			return t
		}
	}

	return ""
}

// AuthorizeToken returns true if got matches expected using constant-time comparison.
// Empty tokens are always treated as unauthorized.
func AuthorizeToken(got, expected string) bool {
	if strings.TrimSpace(expected) == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// AuthorizeRequest extracts a token from r and validates it against expectedToken.
func AuthorizeRequest(r *http.Request, expectedToken string, allowQuery bool) bool {
	if r == nil {
		return false
	}
	return AuthorizeToken(ExtractToken(r, allowQuery), expectedToken)
}
