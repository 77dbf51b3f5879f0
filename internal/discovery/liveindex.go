package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/holostream/archivist/internal/cache"
	"github.com/holostream/archivist/internal/model"
)

// liveIndexQuery is the GraphQL document issued against the upstream
// general-purpose live-index API, grounded verbatim on
// original_source/internals/ihaapi/client.py's QUERY_OBJECT, with
// platform filters narrowed to the non-YouTube platforms that
// AggregatorClient does not cover (spec.md §4.2).
const liveIndexQuery = `
query VTuberLive($cursor:String,$platforms:[PlatformName]) {
    vtuber {
        videos(cursor:$cursor,limit:100,platforms:$platforms,statuses:[live,upcoming]) {
            _total
            items {
                id
                title
                status
                channel_id
                timeData {
                    startTime
                    scheduledStartTime
                }
                platform
                group
                is_member
            }
            pageInfo {
                hasNextPage
                nextCursor
            }
        }
    }
}`

// DefaultLiveIndexPlatforms are the platforms queried when the caller
// does not override them (original_source's DEFAULT_PLATFORMS, extended
// with mildom since spec.md §1 names it as a supported platform).
var DefaultLiveIndexPlatforms = []string{"twitch", "twitter", "twitcasting", "mildom"}

type liveIndexVideo struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Channel  string `json:"channel_id"`
	Platform string `json:"platform"`
	Group    string `json:"group"`
	IsMember bool   `json:"is_member"`
	TimeData struct {
		StartTime          *int64 `json:"startTime"`
		ScheduledStartTime *int64 `json:"scheduledStartTime"`
	} `json:"timeData"`
}

type liveIndexResponse struct {
	Data struct {
		VTuber struct {
			Videos struct {
				Total int64             `json:"_total"`
				Items []liveIndexVideo  `json:"items"`
				PageInfo struct {
					HasNextPage bool   `json:"hasNextPage"`
					NextCursor  string `json:"nextCursor"`
				} `json:"pageInfo"`
			} `json:"videos"`
		} `json:"vtuber"`
	} `json:"data"`
}

// LiveIndexClient queries a general-purpose GraphQL live-index API for
// non-YouTube platforms. Grounded on
// original_source/internals/ihaapi/client.py (ihateanimeAPI).
type LiveIndexClient struct {
	Endpoint   string
	Platforms  []string
	HTTPClient *http.Client
	Cache      cache.Cache
	Limiter    *rate.Limiter
}

// NewLiveIndexClient returns a ready LiveIndexClient with production
// defaults; fields may be overridden before first use.
func NewLiveIndexClient(endpoint string) *LiveIndexClient {
	return &LiveIndexClient{
		Endpoint:   endpoint,
		Platforms:  DefaultLiveIndexPlatforms,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Cache:      cache.NewNoOpCache(),
		Limiter:    rate.NewLimiter(rate.Limit(2), 4),
	}
}

func (c *LiveIndexClient) Discover(ctx context.Context) ([]model.Video, error) {
	const cacheKey = "discovery:liveindex:live_upcoming"
	if v, ok := c.Cache.Get(cacheKey); ok {
		if videos, ok := v.([]model.Video); ok {
			return videos, nil
		}
	}

	var collected []liveIndexVideo
	var cursor *string
	for {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := c.fetchPage(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("discovery: live-index: %w", err)
		}
		collected = append(collected, page.Data.VTuber.Videos.Items...)
		if !page.Data.VTuber.Videos.PageInfo.HasNextPage || page.Data.VTuber.Videos.PageInfo.NextCursor == "" {
			break
		}
		next := page.Data.VTuber.Videos.PageInfo.NextCursor
		cursor = &next
	}

	out := make([]model.Video, 0, len(collected))
	for _, v := range collected {
		out = append(out, normalizeLiveIndexVideo(v))
	}

	c.Cache.Set(cacheKey, out, cacheTTL)
	return out, nil
}

func (c *LiveIndexClient) fetchPage(ctx context.Context, cursor *string) (*liveIndexResponse, error) {
	body, err := json.Marshal(map[string]any{
		"query": liveIndexQuery,
		"variables": map[string]any{
			"cursor":    cursor,
			"platforms": c.Platforms,
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out liveIndexResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func normalizeLiveIndexVideo(v liveIndexVideo) model.Video {
	var start time.Time
	switch {
	case v.TimeData.StartTime != nil:
		start = time.Unix(*v.TimeData.StartTime, 0).UTC()
	case v.TimeData.ScheduledStartTime != nil:
		start = time.Unix(*v.TimeData.ScheduledStartTime, 0).UTC()
	}

	return model.Video{
		ID:        v.ID,
		Title:     v.Title,
		StartTime: start,
		ChannelID: v.Channel,
		Org:       v.Group,
		Status:    model.VideoStatus(v.Status),
		Platform:  model.Platform(v.Platform),
		IsMember:  v.IsMember,
	}
}
