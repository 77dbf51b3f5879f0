package extractor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/holostream/archivist/internal/model"
)

func fakeRunner(stdout, stderr string, err error) runner {
	return func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		return []byte(stdout), []byte(stderr), err
	}
}

func TestYTDLExtractor_SelectMuxedPair(t *testing.T) {
	info := `{"requested_formats":[
		{"format_id":"137","url":"https://example/video.mp4","vcodec":"avc1","acodec":"none","format_note":"1080p60"},
		{"format_id":"140","url":"https://example/audio.m4a","vcodec":"none","acodec":"mp4a"}
	]}`
	e := &YTDLExtractor{Platform: model.PlatformYouTube, Select: selectMuxedPair, run: fakeRunner(info, "", nil)}

	res, err := e.Process(context.Background(), "https://youtube.com/watch?v=abc")
	require.NoError(t, err)
	require.Len(t, res.URLs, 2)
	require.Equal(t, "1080p60", res.Resolution)
	require.Equal(t, "https://example/video.mp4", res.URLs[0].URL)
}

func TestYTDLExtractor_GeoRestrictedClassifiedAsExtractorError(t *testing.T) {
	e := &YTDLExtractor{
		Platform: model.PlatformYouTube,
		Select:   selectMuxedPair,
		run:      fakeRunner("", "ERROR: [youtube] abc: Video is GeoRestricted in this region", errors.New("exit status 1")),
	}

	_, err := e.Process(context.Background(), "https://youtube.com/watch?v=abc")
	var extErr *model.ExtractorError
	require.ErrorAs(t, err, &extErr)
	require.Equal(t, model.ExtractorGeoRestricted, extErr.Kind)
}

func TestYTDLExtractor_MembersOnlyWithoutCookieClassified(t *testing.T) {
	e := &YTDLExtractor{
		Platform: model.PlatformTwitcasting,
		Select:   selectSingleMP4,
		run:      fakeRunner("", "ERROR: no video formats found, Members-only video", errors.New("exit status 1")),
	}

	_, err := e.Process(context.Background(), "https://twitcasting.tv/x/movie/y")
	var extErr *model.ExtractorError
	require.ErrorAs(t, err, &extErr)
	require.Equal(t, model.ExtractorMembersOnly, extErr.Kind)
}

func TestYTDLExtractor_MembersOnlyWithCookieRetriesInsteadOfClassifying(t *testing.T) {
	e := &YTDLExtractor{
		Platform:   model.PlatformTwitcasting,
		CookieFile: "/tmp/cookies.txt",
		Select:     selectSingleMP4,
		run:        fakeRunner("", "ERROR: no video formats found, Members-only video", errors.New("exit status 1")),
	}

	_, err := e.Process(context.Background(), "https://twitcasting.tv/x/movie/y")
	var extErr *model.ExtractorError
	require.False(t, errors.As(err, &extErr), "a cookie is configured, so this must not be classified as members-only")
}

func TestSelectTallestCombined_PicksHighestHeight(t *testing.T) {
	info := &ytdlInfo{Formats: []ytdlFormat{
		{URL: "a", VCodec: "avc1", ACodec: "mp4a", Height: 480},
		{URL: "b", VCodec: "avc1", ACodec: "mp4a", Height: 720},
		{URL: "c", VCodec: "avc1", ACodec: "none", Height: 1080}, // video-only, excluded
	}}
	urls, resolution, err := selectTallestCombined(info)
	require.NoError(t, err)
	require.Equal(t, "b", urls[0].URL)
	require.Equal(t, "720p", resolution)
}
