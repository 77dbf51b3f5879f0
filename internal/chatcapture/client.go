// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chatcapture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// userAgent matches a recent desktop Chrome; YouTube's watch page
// serves a materially different (script-free) document to unrecognized
// clients.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

const maxWatchPageBytes = 8 << 20

// Client fetches YouTube watch pages and issues continuation requests
// against the innertube live_chat endpoints, grounded on client.py's
// ChatDownloader (request plumbing only; the remap/parse logic lives in
// parser.go and remap.go).
type Client struct {
	HTTP    *http.Client
	SAPISID string
}

// NewClient builds a Client. cookieFile, if non-empty, is a
// Netscape-format cookie jar exported from a logged-in browser session;
// its SAPISID (or __Secure-3PAPISID) cookie authenticates innertube
// calls via sapisidHash.
func NewClient(cookieFile string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("chatcapture: build cookie jar: %w", err)
	}
	c := &Client{HTTP: &http.Client{Timeout: 15 * time.Second, Jar: jar}}

	if cookieFile != "" {
		sapisid, err := loadNetscapeCookies(jar, cookieFile)
		if err != nil {
			return nil, fmt.Errorf("chatcapture: load cookies: %w", err)
		}
		c.SAPISID = sapisid
	}
	return c, nil
}

func (c *Client) get(ctx context.Context, rawURL string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US, en;q=0.9")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWatchPageBytes))
	if err != nil {
		return "", 0, err
	}
	return string(body), resp.StatusCode, nil
}

// FetchWatchPage is spec.md §4.5 step 1.
func (c *Client) FetchWatchPage(ctx context.Context, videoID string) (*chatDetails, error) {
	html, status, err := c.get(ctx, "https://www.youtube.com/watch?v="+url.QueryEscape(videoID))
	if err != nil {
		return nil, fmt.Errorf("chatcapture: fetch watch page: %w", err)
	}
	if status >= 400 {
		return nil, fmt.Errorf("chatcapture: watch page returned status %d", status)
	}
	return parseWatchPage(html)
}

// continuationEndpoint picks get_live_chat vs get_live_chat_replay,
// grounded on client.py's is_live branch at continuation time.
func continuationEndpoint(status string) string {
	if status == "live" {
		return "get_live_chat"
	}
	return "get_live_chat_replay"
}

// postContinuation issues one continuation request and returns the
// decoded innertube response body.
func (c *Client) postContinuation(ctx context.Context, status, continuation string, cfg map[string]any) (map[string]any, error) {
	body, err := json.Marshal(map[string]any{
		"context": map[string]any{
			"client": map[string]any{
				"clientName":    "WEB",
				"clientVersion": stringOf(cfg["INNERTUBE_CLIENT_VERSION"]),
			},
		},
		"continuation": continuation,
	})
	if err != nil {
		return nil, fmt.Errorf("chatcapture: encode continuation request: %w", err)
	}

	endpoint := fmt.Sprintf("https://www.youtube.com/youtubei/v1/live_chat/%s?key=%s",
		continuationEndpoint(status), url.QueryEscape(stringOf(cfg["INNERTUBE_API_KEY"])))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, vs := range ytcfgHeaders(cfg, c.SAPISID) {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chatcapture: continuation request: %w", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxWatchPageBytes)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("chatcapture: decode continuation response: %w", err)
	}
	return decoded, nil
}

// loadNetscapeCookies parses a Netscape-format cookie file, installs
// its cookies into jar keyed by domain, and returns the SAPISID value
// to authenticate with (preferring __Secure-3PAPISID, the cookie a
// logged-in browser actually sends over HTTPS), grounded on client.py's
// create() cookie loading.
func loadNetscapeCookies(jar *cookiejar.Jar, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	byDomain := map[string][]*http.Cookie{}
	var sapisid, secure3p string

	for _, line := range strings.Split(string(data), "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			continue
		}
		domain, cpath, secureFlag, expiryRaw, name, value := fields[0], fields[2], fields[3], fields[4], fields[5], fields[6]
		expiry, _ := strconv.ParseInt(expiryRaw, 10, 64)

		cookie := &http.Cookie{
			Name:    name,
			Value:   value,
			Path:    cpath,
			Secure:  strings.EqualFold(secureFlag, "true"),
			Expires: time.Unix(expiry, 0),
		}
		host := strings.TrimPrefix(domain, ".")
		byDomain[host] = append(byDomain[host], cookie)

		switch name {
		case "SAPISID":
			sapisid = value
		case "__Secure-3PAPISID":
			secure3p = value
		}
	}

	for host, cookies := range byDomain {
		jar.SetCookies(&url.URL{Scheme: "https", Host: host}, cookies)
	}

	if secure3p != "" {
		return secure3p, nil
	}
	return sapisid, nil
}
