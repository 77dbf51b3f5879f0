package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/holostream/archivist/internal/cache"
	"github.com/holostream/archivist/internal/model"
)

func TestAggregatorClient_Discover_FiltersAndNormalizes(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		status := r.URL.Query().Get("status")
		items := []aggregatorVideo{}
		switch status {
		case "live":
			v := aggregatorVideo{ID: "v1", Title: "Karaoke Stream", Type: "stream", Status: "live", TopicID: "singing"}
			v.Channel.ID = "UC1"
			v.Channel.Org = "Hololive"
			v.StartActual = "2026-07-30T10:00:00Z"
			items = append(items, v)

			clip := aggregatorVideo{ID: "c1", Type: "clip", Status: "live"}
			clip.Channel.ID = "UC1"
			items = append(items, clip) // must be filtered out: type != "stream"
		case "upcoming":
			v := aggregatorVideo{ID: "v2", Title: "Members Karaoke", Type: "stream", Status: "upcoming", TopicID: "karaoke_member"}
			v.Channel.ID = "UC2"
			v.StartScheduled = "2026-07-30T12:00:00Z"
			items = append(items, v)
		}
		json.NewEncoder(w).Encode(aggregatorPage{Total: json.Number("1"), Items: items})
	}))
	defer srv.Close()

	c := NewAggregatorClient(srv.URL, "")
	c.Limiter = rate.NewLimiter(rate.Inf, 1)
	c.Cache = cache.NewNoOpCache()

	videos, err := c.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, videos, 2)

	byID := map[string]model.Video{}
	for _, v := range videos {
		byID[v.ID] = v
	}
	require.Equal(t, "UC1", byID["v1"].ChannelID)
	require.False(t, byID["v1"].IsMember)
	require.True(t, byID["v2"].IsMember)
	require.Equal(t, model.PlatformYouTube, byID["v1"].Platform)
}

func TestAggregatorClient_Discover_CachesResult(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(aggregatorPage{Total: json.Number("0"), Items: nil})
	}))
	defer srv.Close()

	c := NewAggregatorClient(srv.URL, "")
	c.Limiter = rate.NewLimiter(rate.Inf, 1)
	c.Cache = cache.NewMemoryCache(0)

	_, err := c.Discover(context.Background())
	require.NoError(t, err)
	firstCalls := calls

	_, err = c.Discover(context.Background())
	require.NoError(t, err)
	require.Equal(t, firstCalls, calls, "second Discover within TTL must be served from cache")
}

func TestLiveIndexClient_Discover_PaginatesAndNormalizes(t *testing.T) {
	page := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page++
		var resp liveIndexResponse
		if page == 1 {
			start := int64(1700000000)
			v := liveIndexVideo{ID: "t1", Title: "Twitch stream", Status: "live", Channel: "twitchuser", Platform: "twitch"}
			v.TimeData.StartTime = &start
			resp.Data.VTuber.Videos.Items = []liveIndexVideo{v}
			resp.Data.VTuber.Videos.PageInfo.HasNextPage = true
			resp.Data.VTuber.Videos.PageInfo.NextCursor = "cursor2"
		} else {
			v := liveIndexVideo{ID: "t2", Title: "Twitcasting stream", Status: "upcoming", Channel: "tcuser", Platform: "twitcasting"}
			resp.Data.VTuber.Videos.Items = []liveIndexVideo{v}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewLiveIndexClient(srv.URL)
	c.Limiter = rate.NewLimiter(rate.Inf, 1)
	c.Cache = cache.NewNoOpCache()

	videos, err := c.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, videos, 2)
	require.Equal(t, 2, page)

	require.Equal(t, model.Platform("twitch"), videos[0].Platform)
	require.False(t, videos[0].StartTime.IsZero())
}

func TestMulti_Discover_SkipsFailingSourceWithoutFailingTick(t *testing.T) {
	ok := stubClient{videos: []model.Video{{ID: "ok1"}}}
	bad := stubClient{err: context.DeadlineExceeded}

	m := NewMulti(ok, bad)
	videos, err := m.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, videos, 1)
	require.Equal(t, "ok1", videos[0].ID)
}

type stubClient struct {
	videos []model.Video
	err    error
}

func (s stubClient) Discover(context.Context) ([]model.Video, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.videos, nil
}
