package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/holostream/archivist/internal/model"
)

// ytdlFormat is the subset of a yt-dlp --dump-json `formats`/
// `requested_formats` entry this package reads.
type ytdlFormat struct {
	FormatID    string            `json:"format_id"`
	URL         string            `json:"url"`
	Ext         string            `json:"ext"`
	VCodec      string            `json:"vcodec"`
	ACodec      string            `json:"acodec"`
	Height      int               `json:"height"`
	FormatNote  string            `json:"format_note"`
	HTTPHeaders map[string]string `json:"http_headers"`
}

type ytdlInfo struct {
	RequestedFormats []ytdlFormat `json:"requested_formats"`
	Formats          []ytdlFormat `json:"formats"`
}

// runner abstracts process execution so tests can substitute a fake
// without invoking the real yt-dlp binary.
type runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

// YTDLExtractor resolves a URL via the yt-dlp CLI, grounded on
// original_source/internals/extractor/ytdl.py (and its twitcasting.py /
// mildom.py siblings, which differ only in format selection and the
// platform label attached to errors). Select picks the final
// URLResult(s) out of the decoded yt-dlp info payload.
type YTDLExtractor struct {
	Platform   model.Platform
	CookieFile string
	Select     func(info *ytdlInfo) ([]URLResult, string, error)

	run runner // overridable in tests; defaults to execRunner
}

func (e *YTDLExtractor) runner() runner {
	if e.run != nil {
		return e.run
	}
	return execRunner
}

func (e *YTDLExtractor) Process(ctx context.Context, url string) (*Result, error) {
	args := []string{"--dump-json", "--no-warnings", "--no-playlist", "-f", "bv*+ba/best"}
	if e.CookieFile != "" {
		args = append(args, "--cookies", e.CookieFile)
	}
	args = append(args, url)

	stdout, stderr, err := e.runner()(ctx, "yt-dlp", args...)
	if err != nil {
		if classified := classifyYTDLFailure(string(e.Platform), string(stderr), e.CookieFile != ""); classified != nil {
			return nil, classified
		}
		return nil, fmt.Errorf("extractor(%s): yt-dlp: %w", e.Platform, err)
	}

	var info ytdlInfo
	if err := json.Unmarshal(stdout, &info); err != nil {
		return nil, fmt.Errorf("extractor(%s): parse yt-dlp output: %w", e.Platform, err)
	}

	urls, resolution, err := e.Select(&info)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{}
	for _, f := range info.RequestedFormats {
		for k, v := range f.HTTPHeaders {
			headers[k] = v
		}
	}

	return &Result{
		URLs:        urls,
		Extractor:   string(e.Platform),
		Resolution:  resolution,
		HTTPHeaders: headers,
	}, nil
}

// classifyYTDLFailure maps yt-dlp stderr text to the three error kinds
// spec.md §4.2 names, rule-for-rule with the except clauses in
// original_source's ytdl.py/twitcasting.py/mildom.py process().
// hasCookie reports whether a cookie credential is configured; when
// true, a members-only failure is not classified here so the caller
// retries with the cookie already applied to args.
func classifyYTDLFailure(platform, stderr string, hasCookie bool) *model.ExtractorError {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "geo") && strings.Contains(lower, "restrict"):
		return &model.ExtractorError{Kind: model.ExtractorGeoRestricted, Message: "video is geo restricted"}
	case strings.Contains(lower, "captcha"):
		return &model.ExtractorError{Kind: model.ExtractorLoginRequired, Message: "captcha required"}
	case strings.Contains(lower, "private video"):
		return &model.ExtractorError{Kind: model.ExtractorLoginRequired, Message: "video is private"}
	case strings.Contains(lower, "no video formats") || strings.Contains(lower, "members-only") || strings.Contains(lower, "members only"):
		if !hasCookie {
			return &model.ExtractorError{Kind: model.ExtractorMembersOnly, Message: "members-only video, no cookie credential available"}
		}
		return nil
	default:
		return nil
	}
}

// selectMuxedPair implements YouTube's video+audio pair selection
// (ytdl.py): prefer yt-dlp's own requested_formats (already merged by
// the -f selector above), falling back to the worst-to-best formats
// list reversed.
func selectMuxedPair(info *ytdlInfo) ([]URLResult, string, error) {
	if len(info.RequestedFormats) >= 2 {
		video, audio := info.RequestedFormats[0], info.RequestedFormats[1]
		resolution := firstNonEmpty(video.FormatNote, "Unknown")
		return []URLResult{
			{URL: video.URL, Resolution: resolution},
			{URL: audio.URL, Resolution: resolution},
		}, resolution, nil
	}

	formats := reversed(info.Formats)
	video := firstMatch(formats, func(f ytdlFormat) bool { return f.VCodec != "none" && f.ACodec == "none" })
	audio := firstMatch(formats, func(f ytdlFormat) bool { return f.ACodec != "none" && f.VCodec == "none" })
	if video == nil || audio == nil {
		return nil, "", model.ErrExtractorEmpty
	}
	resolution := firstNonEmpty(video.FormatNote, "Unknown")
	return []URLResult{{URL: video.URL, Resolution: resolution}, {URL: audio.URL, Resolution: resolution}}, resolution, nil
}

// selectSingleMP4 implements Twitcasting's selection (twitcasting.py):
// a single muxed format, resolution hard-coded to "XXXp" since the
// upstream rarely reports a usable height for this platform.
func selectSingleMP4(info *ytdlInfo) ([]URLResult, string, error) {
	var chosen *ytdlFormat
	if len(info.RequestedFormats) > 0 {
		chosen = &info.RequestedFormats[0]
	} else if formats := reversed(info.Formats); len(formats) > 0 {
		chosen = &formats[0]
	}
	if chosen == nil {
		return nil, "", model.ErrExtractorEmpty
	}
	return []URLResult{{URL: chosen.URL, Resolution: "XXXp"}}, "XXXp", nil
}

// selectTallestCombined implements Mildom's selection (mildom.py):
// the tallest format carrying both a video and an audio codec.
func selectTallestCombined(info *ytdlInfo) ([]URLResult, string, error) {
	var combined []ytdlFormat
	for _, f := range info.Formats {
		if f.VCodec != "none" && f.ACodec != "none" {
			combined = append(combined, f)
		}
	}
	if len(combined) == 0 {
		return nil, "", model.ErrExtractorEmpty
	}
	sort.Slice(combined, func(i, j int) bool { return combined[i].Height > combined[j].Height })
	best := combined[0]
	resolution := strconv.Itoa(best.Height) + "p"
	return []URLResult{{URL: best.URL, Resolution: resolution}}, resolution, nil
}

func reversed(in []ytdlFormat) []ytdlFormat {
	out := make([]ytdlFormat, len(in))
	for i, f := range in {
		out[len(in)-1-i] = f
	}
	return out
}

func firstMatch(formats []ytdlFormat, pred func(ytdlFormat) bool) *ytdlFormat {
	for i := range formats {
		if pred(formats[i]) {
			return &formats[i]
		}
	}
	return nil
}

func firstNonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
