// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package chatcapture implements the Chat Capture Pipeline (C8): a
// long-poll consumer that authenticates against YouTube's innertube
// live_chat endpoints, normalizes every action into a uniform Message,
// and appends it to an always-valid incremental JSON archive, with a
// crash-resume path that backtracks into a partially-written archive to
// find its last complete message (spec.md §4.5).
package chatcapture

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/holostream/archivist/internal/log"
	"github.com/holostream/archivist/internal/metrics"
	"github.com/holostream/archivist/internal/model"
	"github.com/holostream/archivist/internal/store"
)

const maxPollInterval = 8 * time.Second

// Capture drives one video's chat continuation loop end to end. It is
// dispatched the moment a job's download stage starts and runs
// independently of the recording itself.
type Capture struct {
	Client *Client
	Store  store.Store

	ArchiveDir string

	JobID      string
	ChannelID  string
	Filename   string
	MemberOnly bool
	Platform   model.Platform

	// ResumeOffset, when > 0, is the timestamp (seconds) to resume from;
	// messages at or before it are skipped (spec.md §4.5 step 6).
	ResumeOffset float64
}

// ArchivePath returns the path Capture writes its JSON archive to.
func (c *Capture) ArchivePath() string {
	return filepath.Join(c.ArchiveDir, c.Filename+".chat.json")
}

// Run executes the pipeline until the chat ends, is cancelled by ctx, or
// fails unrecoverably. It leaves the PendingChatCapture row in place:
// after a normal completion the Uploader removes it once the archive is
// uploaded, and after a cancellation a later process can resume from it.
func (c *Capture) Run(ctx context.Context) error {
	details, err := c.Client.FetchWatchPage(ctx, c.JobID)
	if err != nil {
		return fmt.Errorf("chatcapture: %w", err)
	}

	if err := validatePlayability(details); err != nil {
		return err
	}

	continuation, err := selectContinuation(details)
	if err != nil {
		return fmt.Errorf("chatcapture: %w", err)
	}

	resume := c.ResumeOffset > 0
	writer, err := NewWriter(c.ArchivePath(), resume)
	if err != nil {
		return fmt.Errorf("chatcapture: %w", err)
	}
	defer writer.Close()

	if err := c.Store.PutPendingChatCapture(ctx, &model.PendingChatCapture{
		ID:         c.JobID,
		Filename:   c.ArchivePath(),
		ChannelID:  c.ChannelID,
		MemberOnly: c.MemberOnly,
		CreatedAt:  time.Now(),
	}); err != nil {
		log.L().Warn().Err(err).Str("id", c.JobID).Msg("chatcapture: failed to record pending capture")
	}

	cont := continuation.Continuation
	for {
		resp, err := c.Client.postContinuation(ctx, details.Status, cont, details.YtConfig)
		if err != nil {
			return fmt.Errorf("chatcapture: %w", err)
		}

		c.writeActions(writer, resp)

		next, sleepMs, ok := nextContinuation(resp)
		if !ok {
			break
		}
		cont = next

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(clampSleep(sleepMs)):
		}
	}

	return nil
}

func (c *Capture) writeActions(w *Writer, resp map[string]any) {
	actions, ok := complexWalk(resp, "continuationContents", "liveChatContinuation", "actions").([]any)
	if !ok {
		return
	}

	for _, raw := range actions {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		renderer, ok := complexWalk(item, "addChatItemAction", "item").(map[string]any)
		if !ok {
			continue
		}
		msg, ok := normalizeAction(renderer)
		if !ok {
			continue
		}
		if msg.Timestamp <= c.ResumeOffset {
			continue // replay offset filtering, spec.md §4.5 step 6
		}
		if err := w.Write(msg); err != nil {
			log.L().Warn().Err(err).Str("id", c.JobID).Msg("chatcapture: write failed")
			continue
		}
		metrics.ChatMessagesWritten.WithLabelValues(string(c.Platform)).Inc()
	}
}

// validatePlayability maps a watch page's playability status into a
// typed exit, grounded on errors.py's VideoUnavailable / LoginRequired /
// VideoUnplayable / ChatDisabled hierarchy. A chat-disabled upcoming
// video is left to the caller to retry later; on live or past it is
// terminal.
func validatePlayability(d *chatDetails) error {
	switch d.PlayabilityStatus {
	case "ERROR":
		return fmt.Errorf("chatcapture: %w: %s", ErrVideoUnavailable, d.ChannelID)
	case "LOGIN_REQUIRED":
		return fmt.Errorf("chatcapture: %w", ErrLoginRequired)
	case "UNPLAYABLE":
		return fmt.Errorf("chatcapture: %w", ErrUnplayable)
	}
	if len(d.Continuations) == 0 {
		return fmt.Errorf("chatcapture: %w (status=%s)", model.ErrChatDisabled, d.Status)
	}
	return nil
}

// selectContinuation picks the chat feed to poll: whichever submenu
// entry the watch page marked selected, falling back to index 1 (the
// entry client.py's _initialize_chat picks by convention — index 0 is
// "Top chat", which drops messages the archive wants to keep).
func selectContinuation(d *chatDetails) (continuationInfo, error) {
	if len(d.Continuations) < 2 {
		return continuationInfo{}, ErrNoContinuation
	}
	for _, c := range d.Continuations {
		if c.Selected {
			return c, nil
		}
	}
	return d.Continuations[1], nil
}

// nextContinuation extracts the next polling continuation token and the
// server-suggested poll interval from a continuation response.
func nextContinuation(resp map[string]any) (token string, timeoutMs int, ok bool) {
	list, listOk := complexWalk(resp, "continuationContents", "liveChatContinuation", "continuations").([]any)
	if !listOk || len(list) == 0 {
		return "", 0, false
	}
	entry, ok := list[0].(map[string]any)
	if !ok {
		return "", 0, false
	}
	for _, v := range entry {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		tok := stringOf(m["continuation"])
		if tok == "" {
			continue
		}
		return tok, int(numberOf(m["timeoutMs"])), true
	}
	return "", 0, false
}

func clampSleep(ms int) time.Duration {
	d := time.Duration(ms) * time.Millisecond
	if d < 0 {
		return 0
	}
	if d > maxPollInterval {
		return maxPollInterval
	}
	return d
}

// PendingResume is one chat capture ready to be redispatched at
// startup, with its resume offset already computed from the on-disk
// archive.
type PendingResume struct {
	Pending *model.PendingChatCapture
	Offset  float64
}

// ResumeAll inspects every PendingChatCapture row left behind by a
// prior process and computes each one's resume offset by backtracking
// into its archive file (spec.md §4.5 "Resume semantics").
func ResumeAll(ctx context.Context, st store.Store) ([]PendingResume, error) {
	pending, err := st.ListPendingChatCaptures(ctx)
	if err != nil {
		return nil, fmt.Errorf("chatcapture: list pending captures: %w", err)
	}

	out := make([]PendingResume, 0, len(pending))
	for _, p := range pending {
		offset, _ := resumeOffset(p.Filename)
		out = append(out, PendingResume{Pending: p, Offset: offset})
	}
	return out, nil
}
