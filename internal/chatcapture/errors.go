// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chatcapture

import "errors"

// Sentinel kinds for the playability checks in spec.md §4.5 step 2 that
// model.ErrChatDisabled does not already cover.
var (
	ErrVideoUnavailable = errors.New("chatcapture: video unavailable")
	ErrLoginRequired    = errors.New("chatcapture: login required")
	ErrUnplayable       = errors.New("chatcapture: video unplayable")
	ErrNoContinuation   = errors.New("chatcapture: no chat continuation found")
)
