// Package extractor implements the Extractors (C4): polymorphic
// resolution of a platform URL to a recordable stream (spec.md §4.2).
// Each platform extractor shells out to the external tool the original
// Python implementation wrapped (yt-dlp, streamlink) or, for Twitter
// Spaces, speaks the upstream HTTP API directly — grounded respectively
// on original_source/internals/extractor/{ytdl,twitcasting,mildom}.py,
// twitch.py, and twitter.py.
package extractor

import (
	"context"
	"io"

	"github.com/holostream/archivist/internal/model"
)

// URLResult is one resolved stream URL, paired with its resolution
// label when known.
type URLResult struct {
	URL        string
	Resolution string
}

// Result is what a successful Extractor.Process call produces
// (spec.md §4.2's ExtractionResult): one or more URLs to download (two
// for a separate video+audio mux, one otherwise), the resolution label,
// any HTTP headers the origin requires on fetch, and — for platforms
// that must be read as a live byte stream rather than handed off as a
// URL — an open streaming handle.
type Result struct {
	URLs        []URLResult
	Extractor   string
	Resolution  string
	HTTPHeaders map[string]string

	// Stream is non-nil only for extractors that hand back a live byte
	// stream (Twitch) instead of a fetchable URL. Callers that receive
	// a non-nil Stream own it and must Close it.
	Stream io.ReadCloser
}

// Extractor resolves a platform URL to a Result. Failure to resolve is
// surfaced as a *model.ExtractorError when the cause is classifiable
// (geo-restriction, login/captcha/private, members-only); any other
// error is an ordinary transient failure.
type Extractor interface {
	Process(ctx context.Context, url string) (*Result, error)
}

// Registry dispatches to the Extractor registered for a platform.
type Registry struct {
	byPlatform map[model.Platform]Extractor
}

// NewRegistry wires one Extractor per platform named in spec.md §1,
// sharing cookieFile (empty means "no cookie credential available",
// which determines the members-only recovery behavior of spec.md §4.2).
func NewRegistry(cookieFile string) *Registry {
	return &Registry{
		byPlatform: map[model.Platform]Extractor{
			model.PlatformYouTube:     &YTDLExtractor{Platform: model.PlatformYouTube, CookieFile: cookieFile, Select: selectMuxedPair},
			model.PlatformTwitcasting: &YTDLExtractor{Platform: model.PlatformTwitcasting, CookieFile: cookieFile, Select: selectSingleMP4},
			model.PlatformMildom:      &YTDLExtractor{Platform: model.PlatformMildom, CookieFile: cookieFile, Select: selectTallestCombined},
			model.PlatformTwitch:      NewTwitchExtractor(),
			model.PlatformTwitter:     NewTwitterExtractor(),
		},
	}
}

// Resolve returns the Extractor for platform, or false if none is
// registered.
func (r *Registry) Resolve(platform model.Platform) (Extractor, bool) {
	e, ok := r.byPlatform[platform]
	return e, ok
}
