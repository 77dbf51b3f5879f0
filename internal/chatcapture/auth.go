// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chatcapture

import (
	"crypto/sha1" //nolint:gosec // required by YouTube's own SAPISIDHASH scheme, not a security boundary here
	"fmt"
	"net/http"
	"strings"
	"time"
)

// sapisidHash builds the "SAPISIDHASH <ts>_<hash>" value YouTube's own
// web client sends as the authorization header on authenticated
// innertube calls, grounded on client.py's _generate_sapisid_header.
func sapisidHash(sapisid string, now time.Time) string {
	ts := now.Unix()
	sum := sha1.Sum([]byte(fmt.Sprintf("%d %s https://www.youtube.com", ts, sapisid))) //nolint:gosec
	return fmt.Sprintf("SAPISIDHASH %d_%x", ts, sum)
}

// ytcfgHeaders builds the client-identification headers every innertube
// call needs, grounded on client.py's _generate_ytcfg_header and
// _extract_account_syncid.
func ytcfgHeaders(cfg map[string]any, sapisid string) http.Header {
	h := http.Header{}
	h.Set("Origin", "https://www.youtube.com")
	h.Set("X-Origin", "https://www.youtube.com")
	h.Set("X-Youtube-Client-Name", stringOf(cfg["INNERTUBE_CONTEXT_CLIENT_NAME"]))
	h.Set("X-Youtube-Client-Version", stringOf(cfg["INNERTUBE_CLIENT_VERSION"]))
	h.Set("X-Goog-Authuser", "0")

	if token, ok := cfg["ID_TOKEN"].(string); ok && token != "" {
		h.Set("X-Youtube-Identity-Token", token)
	}
	if idx := cfg["SESSION_INDEX"]; idx != nil {
		h.Set("X-Goog-Authuser", stringOf(idx))
	}
	if syncID := accountSyncID(cfg); syncID != "" {
		h.Set("X-Goog-Pageid", syncID)
	}
	if visitor, ok := complexWalk(cfg, "INNERTUBE_CONTEXT", "client", "visitorData").(string); ok && visitor != "" {
		h.Set("X-Goog-Visitor-Id", visitor)
	}
	if sapisid != "" {
		h.Set("Authorization", sapisidHash(sapisid, time.Now()))
	}
	return h
}

// accountSyncID extracts the page id portion of DATASYNC_ID
// ("<page_id>||<data_sync_id>"). The first part is used only when the
// part after "||" is non-empty; otherwise (no separator, or a bare
// "<data_sync_id>||" value) it falls back to DELEGATED_SESSION_ID.
func accountSyncID(cfg map[string]any) string {
	raw, _ := cfg["DATASYNC_ID"].(string)
	if parts := strings.SplitN(raw, "||", 2); len(parts) == 2 && parts[1] != "" {
		return parts[0]
	}
	return stringOf(cfg["DELEGATED_SESSION_ID"])
}

func stringOf(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func numberOf(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
