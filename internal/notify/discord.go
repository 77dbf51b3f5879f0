// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package notify sends Job state changes to a Discord webhook, grounded
// on original_source/internals/notifier/discord.py's embed builders and
// one_time_shot POST. spec.md §6 names the webhook URL as a config knob
// without a matching component; this is the supplemented feature that
// gives it somewhere to go. No ecosystem Discord-webhook client exists
// in the example pack, so the embed payload is built directly with
// encoding/json and posted over net/http rather than through a library.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/holostream/archivist/internal/log"
	"github.com/holostream/archivist/internal/model"
)

const userAgent = "archivist/1.0 (+https://github.com/holostream/archivist)"

type embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Image       *struct {
		URL string `json:"url"`
	} `json:"image,omitempty"`
	Timestamp string `json:"timestamp"`
}

type payload struct {
	Embeds   []embed `json:"embeds"`
	Username string  `json:"username"`
}

// Notifier posts Job state changes to a single Discord webhook. A zero
// value (empty WebhookURL) is a valid no-op notifier.
type Notifier struct {
	WebhookURL string
	HTTP       *http.Client
}

// New builds a Notifier. An empty webhookURL disables it entirely;
// every method becomes a no-op rather than returning an error, since a
// missing webhook is a deployment choice, not a fault.
func New(webhookURL string) *Notifier {
	return &Notifier{WebhookURL: webhookURL, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

// NotifySchedule announces a newly scheduled job.
func (n *Notifier) NotifySchedule(ctx context.Context, j *model.Job) {
	n.post(ctx, embed{
		Title:       "Archivist Scheduler",
		Description: fmt.Sprintf("**%s**\n%s", j.Filename, watchURL(j)),
		Color:       0xcfdf69,
	})
}

// NotifyUpdate announces a job status transition; statuses with no
// embed mapping (waiting, preparing, muxing, cancelled) are silently
// skipped, mirroring discord.py's make_update_discord_embed falling through to
// None for the same set.
func (n *Notifier) NotifyUpdate(ctx context.Context, j *model.Job) {
	e, ok := updateEmbed(j)
	if !ok {
		return
	}
	n.post(ctx, e)
}

func updateEmbed(j *model.Job) (embed, bool) {
	url := watchURL(j)
	switch j.Status {
	case model.StatusDownloading:
		return embed{Title: "Archivist Start", Description: fmt.Sprintf("Recording started!\n**%s**\n\nURL: %s", j.Filename, url), Color: 0xa49be6}, true
	case model.StatusError:
		return embed{Title: "Archivist Error", Description: fmt.Sprintf("An error occurred\nURL: %s\n\n%s", url, j.Error), Color: 0xb93c3c}, true
	case model.StatusCleaning, model.StatusDone:
		return embed{Title: "Archivist Finished", Description: fmt.Sprintf("Recording finished!\n**%s**\n\n[Stream](%s)", j.Filename, url), Color: 0x9fe69b}, true
	case model.StatusUploading:
		return embed{Title: "Archivist Uploading", Description: fmt.Sprintf("Uploading started!\n**%s**\n\nURL: %s", j.Filename, url), Color: 0x9bc3e6}, true
	default:
		return embed{}, false
	}
}

func watchURL(j *model.Job) string {
	switch j.Platform {
	case model.PlatformYouTube:
		return fmt.Sprintf("https://youtu.be/%s", j.ID)
	case model.PlatformTwitch:
		return fmt.Sprintf("https://twitch.tv/%s", j.ChannelID)
	default:
		return j.ID
	}
}

func (n *Notifier) post(ctx context.Context, e embed) {
	if n == nil || n.WebhookURL == "" {
		return
	}
	e.Timestamp = time.Now().UTC().Format(time.RFC3339)

	body, err := json.Marshal(payload{Embeds: []embed{e}, Username: "Archivist"})
	if err != nil {
		log.L().Warn().Err(err).Msg("notify: failed to marshal discord payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		log.L().Warn().Err(err).Msg("notify: failed to build discord request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := n.HTTP.Do(req)
	if err != nil {
		log.L().Warn().Err(err).Msg("notify: discord webhook request failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		log.L().Warn().Int("status", resp.StatusCode).Msg("notify: discord webhook returned error status")
		return
	}
	log.L().Debug().Str("url", n.WebhookURL).Msg("notify: sent discord webhook")
}
