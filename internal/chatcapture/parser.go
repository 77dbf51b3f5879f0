// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chatcapture

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var (
	initialDataRe    = regexp.MustCompile(`(?:window\["ytInitialData"\]|var ytInitialData)\s*=\s*(\{.+?\});?\s*(?:</script|\n)`)
	playerResponseRe = regexp.MustCompile(`ytInitialPlayerResponse\s*=\s*(\{.+?\})\s*;\s*(?:var meta|</script|\n)`)
	ytcfgRe          = regexp.MustCompile(`ytcfg\.set\s*\(\s*(\{.+?\})\s*\)\s*;`)
)

// continuationInfo is one entry of the watch page's chat view-selector
// submenu ("Live chat", "Top chat", "Live chat replay").
type continuationInfo struct {
	Title        string
	Continuation string
	Selected     bool
}

type videoDetails struct {
	Title         string `json:"title"`
	ChannelID     string `json:"channelId"`
	VideoID       string `json:"videoId"`
	IsLive        bool   `json:"isLive"`
	IsLiveNow     bool   `json:"isLiveNow"`
	IsUpcoming    bool   `json:"isUpcoming"`
}

type playerResponse struct {
	VideoDetails      videoDetails `json:"videoDetails"`
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
}

// chatDetails is the normalized outcome of parsing a watch page,
// grounded on parser.py's parse_youtube_video_data / ChatDetails.
type chatDetails struct {
	VideoID           string
	Title             string
	ChannelID         string
	Status            string // live, upcoming, past
	PlayabilityStatus string
	Continuations     []continuationInfo
	YtConfig          map[string]any
}

// parseWatchPage extracts ytInitialData, ytInitialPlayerResponse and
// ytcfg.set(...) from a fetched watch page (spec.md §4.5 step 1),
// grounded on parser.py's three regex boundaries
// (INITIAL_DATA_RE / INITIAL_PLAYER_RESPONSE_RE / CFG_RE).
func parseWatchPage(html string) (*chatDetails, error) {
	playerMatch := playerResponseRe.FindStringSubmatch(html)
	if playerMatch == nil {
		return nil, fmt.Errorf("chatcapture: player response not found in watch page")
	}

	var player playerResponse
	if err := json.Unmarshal([]byte(playerMatch[1]), &player); err != nil {
		return nil, fmt.Errorf("chatcapture: decode player response: %w", err)
	}

	var ytcfg map[string]any
	if cfgMatch := ytcfgRe.FindStringSubmatch(html); cfgMatch != nil {
		_ = json.Unmarshal([]byte(cfgMatch[1]), &ytcfg)
	}

	details := &chatDetails{
		VideoID:           player.VideoDetails.VideoID,
		Title:             player.VideoDetails.Title,
		ChannelID:         player.VideoDetails.ChannelID,
		YtConfig:          ytcfg,
		PlayabilityStatus: player.PlayabilityStatus.Status,
	}
	switch {
	case player.VideoDetails.IsLive, player.VideoDetails.IsLiveNow:
		details.Status = "live"
	case player.VideoDetails.IsUpcoming:
		details.Status = "upcoming"
	default:
		details.Status = "past"
	}

	if initMatch := initialDataRe.FindStringSubmatch(html); initMatch != nil {
		var initialData map[string]any
		if err := json.Unmarshal([]byte(initMatch[1]), &initialData); err == nil {
			details.Continuations = extractContinuations(initialData)
		}
	}
	return details, nil
}

func extractContinuations(initialData map[string]any) []continuationInfo {
	raw := complexWalk(initialData, "contents", "twoColumnWatchNextResults", "conversationBar",
		"liveChatRenderer", "header", "liveChatHeaderRenderer", "viewSelector",
		"sortFilterSubMenuRenderer", "subMenuItems")
	list, ok := raw.([]any)
	if !ok {
		return nil
	}

	out := make([]continuationInfo, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		cont, _ := complexWalk(m, "continuation", "reloadContinuationData", "continuation").(string)
		if cont == "" {
			continue
		}
		title, _ := m["title"].(string)
		selected, _ := m["selected"].(bool)
		out = append(out, continuationInfo{Title: title, Continuation: cont, Selected: selected})
	}
	return out
}

// complexWalk descends a chain of map keys, returning nil as soon as a
// key is missing or an intermediate node isn't a map. Grounded on
// parser.py's complex_walk, minus its "*" broadcast-over-list form,
// which this package's call sites never need.
func complexWalk(node any, path ...string) any {
	cur := node
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := m[p]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}
