package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/holostream/archivist/internal/cache"
	"github.com/holostream/archivist/internal/log"
	"github.com/holostream/archivist/internal/model"
)

// aggregatorPageSize mirrors the upstream's own page size
// (original_source/internals/holodex/client.py's `limit = 50`).
const aggregatorPageSize = 50

// aggregatorVideo is the upstream payload shape, grounded on
// original_source/internals/holodex/_types.py's HolodexVideo TypedDict.
type aggregatorVideo struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Type            string `json:"type"`
	Status          string `json:"status"`
	TopicID         string `json:"topic_id"`
	StartScheduled  string `json:"start_scheduled"`
	StartActual     string `json:"start_actual"`
	ChannelIDTop    string `json:"channel_id"`
	Channel         struct {
		ID  string `json:"id"`
		Org string `json:"org"`
	} `json:"channel"`
}

type aggregatorPage struct {
	Total json.Number        `json:"total"`
	Items []aggregatorVideo  `json:"items"`
}

// AggregatorClient queries a VTuber-aggregation REST API: the videos
// endpoint, filtered to type=stream and status in {live, upcoming},
// paginated by offset. Grounded on
// original_source/internals/holodex/client.py (HolodexAPI).
type AggregatorClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Cache      cache.Cache
	Limiter    *rate.Limiter
}

// NewAggregatorClient returns a ready AggregatorClient with production
// defaults; fields may be overridden before first use.
func NewAggregatorClient(baseURL, apiKey string) *AggregatorClient {
	return &AggregatorClient{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Cache:      cache.NewNoOpCache(),
		Limiter:    rate.NewLimiter(rate.Limit(2), 4),
	}
}

func (c *AggregatorClient) Discover(ctx context.Context) ([]model.Video, error) {
	const cacheKey = "discovery:aggregator:live_upcoming"
	if v, ok := c.Cache.Get(cacheKey); ok {
		if videos, ok := v.([]model.Video); ok {
			return videos, nil
		}
	}

	var all []model.Video
	for _, status := range []string{"live", "upcoming"} {
		videos, err := c.listByStatus(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("discovery: aggregator %s: %w", status, err)
		}
		all = append(all, videos...)
	}

	c.Cache.Set(cacheKey, all, cacheTTL)
	return all, nil
}

func (c *AggregatorClient) listByStatus(ctx context.Context, status string) ([]model.Video, error) {
	sortBy := "available_at"
	switch status {
	case "upcoming":
		sortBy = "start_scheduled"
	case "live":
		sortBy = "start_actual"
	}

	var collected []aggregatorVideo
	offset := 0
	for {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}

		q := url.Values{}
		q.Set("type", "stream")
		q.Set("include", "live_info")
		q.Set("sort", sortBy)
		q.Set("order", "asc")
		q.Set("limit", strconv.Itoa(aggregatorPageSize))
		q.Set("paginated", "true")
		q.Set("max_upcoming_hours", "48")
		q.Set("status", status)
		q.Set("offset", strconv.Itoa(offset))

		var page aggregatorPage
		if err := c.getJSON(ctx, "videos", q, &page); err != nil {
			return nil, err
		}

		total, _ := page.Total.Int64()
		if total < 1 {
			break
		}
		collected = append(collected, page.Items...)
		offset += aggregatorPageSize + 1
		if int64(len(collected)) >= total {
			break
		}
	}

	out := make([]model.Video, 0, len(collected))
	for _, v := range collected {
		video, ok := normalizeAggregatorVideo(v)
		if !ok {
			continue
		}
		out = append(out, video)
	}
	return out, nil
}

func (c *AggregatorClient) getJSON(ctx context.Context, path string, q url.Values, dst any) error {
	u := fmt.Sprintf("%s/%s", c.BaseURL, path)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-APIKEY", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// normalizeAggregatorVideo implements the exact filtering/derivation
// rules of HolodexAPI.get_video/get_lives: type must be "stream", start
// time prefers start_actual over start_scheduled, is_member is derived
// from the topic tag containing "member".
func normalizeAggregatorVideo(v aggregatorVideo) (model.Video, bool) {
	if v.Type != "stream" {
		return model.Video{}, false
	}
	channelID := v.ChannelIDTop
	if channelID == "" {
		channelID = v.Channel.ID
	}
	if channelID == "" {
		return model.Video{}, false
	}

	startRaw := v.StartActual
	if startRaw == "" {
		startRaw = v.StartScheduled
	}
	start, _ := time.Parse(time.RFC3339, startRaw)

	status := model.VideoStatus(v.Status)
	if status != model.VideoLive && status != model.VideoUpcoming && status != model.VideoPast {
		log.L().Debug().Str("status", v.Status).Str("video_id", v.ID).Msg("discovery: aggregator unknown status, dropping")
		return model.Video{}, false
	}

	return model.Video{
		ID:        v.ID,
		Title:     v.Title,
		StartTime: start,
		ChannelID: channelID,
		Org:       v.Channel.Org,
		Status:    status,
		Platform:  model.PlatformYouTube,
		IsMember:  strings.Contains(strings.ToLower(v.TopicID), "member"),
	}, true
}
