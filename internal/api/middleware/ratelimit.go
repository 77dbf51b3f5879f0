// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/holostream/archivist/internal/ratelimit"
	"golang.org/x/time/rate"
)

// apiMode is the single ratelimit.Limiter "mode" bucket the HTTP API
// runs under; the teacher's per-mode dimension (standard/audio_proxy/gpu)
// has no equivalent here, so every request shares one mode limit sized
// to the global limit.
const apiMode = "api"

// APIRateLimit applies global + per-IP token-bucket limiting via
// internal/ratelimit, with an exact-IP whitelist bypass.
func APIRateLimit(rps, burst int, whitelist []string) func(http.Handler) http.Handler {
	if rps <= 0 {
		rps = 100
	}
	if burst <= 0 {
		burst = rps * 2
	}

	limiter := ratelimit.New(ratelimit.Config{
		GlobalRate:  rate.Limit(rps),
		GlobalBurst: burst,
		PerIPRate:   rate.Limit(rps),
		PerIPBurst:  burst,
		ModeRates:   map[string]rate.Limit{apiMode: rate.Limit(rps)},
		ModeBurst:   map[string]int{apiMode: burst},

		CleanupInterval: 5 * time.Minute,
	})

	whitelisted := make(map[string]struct{}, len(whitelist))
	for _, ip := range whitelist {
		whitelisted[ip] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ratelimit.GetClientIP(r)
			if _, ok := whitelisted[ip]; ok {
				next.ServeHTTP(w, r)
				return
			}
			if !limiter.Allow(ip, apiMode) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(time.Minute.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
