package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"
)

// twitterGuestBearer is the public guest-auth bearer token Twitter's own
// web client ships, grounded verbatim on original_source's twitter.py;
// it authenticates as an anonymous guest, not a user account.
const twitterGuestBearer = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs=1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

var guestTokenPattern = regexp.MustCompile(`gt=(\d{19})`)

// TwitterExtractor resolves a Twitter Spaces id to its live audio
// source, grounded on original_source/internals/extractor/twitter.py.
type TwitterExtractor struct {
	HTTPClient *http.Client
}

func NewTwitterExtractor() *TwitterExtractor {
	return &TwitterExtractor{HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

// Process takes a Space id (not a full URL, unlike the other
// extractors — the lifecycle engine extracts it from the Space URL
// before calling in, matching how original_source's __main__ block
// invokes it directly with an id).
func (e *TwitterExtractor) Process(ctx context.Context, spaceID string) (*Result, error) {
	token, err := e.guestToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("extractor(twitter): guest token: %w", err)
	}

	mediaKey, err := e.spaceMediaKey(ctx, token, spaceID)
	if err != nil {
		return nil, fmt.Errorf("extractor(twitter): space metadata: %w", err)
	}

	location, err := e.streamLocation(ctx, token, mediaKey)
	if err != nil {
		return nil, fmt.Errorf("extractor(twitter): stream status: %w", err)
	}

	return &Result{
		Extractor: "twitter",
		URLs:      []URLResult{{URL: location}},
	}, nil
}

func (e *TwitterExtractor) doGet(ctx context.Context, url, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+twitterGuestBearer)
	if token != "" {
		req.Header.Set("x-guest-token", token)
	}
	return e.HTTPClient.Do(req)
}

func (e *TwitterExtractor) guestToken(ctx context.Context) (string, error) {
	resp, err := e.doGet(ctx, "https://twitter.com", "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	match := guestTokenPattern.FindSubmatch(body)
	if match == nil {
		return "", fmt.Errorf("guest token not found in response")
	}
	return string(match[1]), nil
}

func (e *TwitterExtractor) spaceMediaKey(ctx context.Context, token, spaceID string) (string, error) {
	variables, err := json.Marshal(map[string]any{
		"id":                        spaceID,
		"isMetatagsQuery":           false,
		"withSuperFollowsUserFields": false,
		"withDownvotePerspective":   false,
		"withReactionsMetadata":     false,
		"withReactionsPerspective":  false,
		"withReplays":               false,
		"withScheduledSpaces":       false,
	})
	if err != nil {
		return "", err
	}

	u := fmt.Sprintf("https://twitter.com/i/api/graphql/Uv5R_-Chxbn1FEkyUkSW2w/AudioSpaceById?variables=%s", url.QueryEscape(string(variables)))
	resp, err := e.doGet(ctx, u, token)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload struct {
		Data struct {
			AudioSpace struct {
				Metadata struct {
					MediaKey string `json:"media_key"`
				} `json:"metadata"`
			} `json:"audioSpace"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.Data.AudioSpace.Metadata.MediaKey == "" {
		return "", fmt.Errorf("space has no media key (not live)")
	}
	return payload.Data.AudioSpace.Metadata.MediaKey, nil
}

func (e *TwitterExtractor) streamLocation(ctx context.Context, token, mediaKey string) (string, error) {
	u := fmt.Sprintf("https://twitter.com/i/api/1.1/live_video_stream/status/%s", mediaKey)
	resp, err := e.doGet(ctx, u, token)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload struct {
		Source struct {
			Location string `json:"location"`
		} `json:"source"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.Source.Location == "" {
		return "", fmt.Errorf("stream status has no source location")
	}
	return payload.Source.Location, nil
}
