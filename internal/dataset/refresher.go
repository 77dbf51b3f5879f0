package dataset

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/holostream/archivist/internal/log"
)

// RemoteHashURL, when non-empty, is polled by Refresher to decide
// whether the canonical dataset has changed upstream (spec.md §6
// "On-disk layout": "an updater task periodically refreshes by
// comparing to a remote hash" — original_source has no literal
// equivalent for this VTuber dataset, so this is a supplemented
// feature grounded directly in spec.md's own on-disk-layout note).
type Refresher struct {
	Index         *Index
	RemoteHashURL string
	Interval      time.Duration
	HTTPClient    *http.Client
	// Fetch, when set, replaces the default HTTP GET — used by tests.
	Fetch func(ctx context.Context) (string, error)
}

func (r *Refresher) Run(ctx context.Context) {
	if r.RemoteHashURL == "" {
		return
	}
	interval := r.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Refresher) tick(ctx context.Context) {
	fetch := r.Fetch
	if fetch == nil {
		fetch = r.fetchRemoteHash
	}
	remoteHash, err := fetch(ctx)
	if err != nil {
		log.L().Warn().Err(err).Msg("dataset: remote hash fetch failed")
		return
	}
	local := r.Index.current.Load()
	if local != nil && local.Hash == remoteHash {
		return
	}
	r.Index.reload()
}

func (r *Refresher) fetchRemoteHash(ctx context.Context) (string, error) {
	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.RemoteHashURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}
