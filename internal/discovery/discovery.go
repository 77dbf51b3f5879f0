// Package discovery implements the Discovery Clients (C3): typed clients
// against the two upstream live-listing APIs named in spec.md §4.2 — a
// VTuber-aggregation REST API and a general-purpose live-index GraphQL
// API — normalizing both into model.Video.
package discovery

import (
	"context"
	"time"

	"github.com/holostream/archivist/internal/model"
)

// Client is one upstream listing source.
type Client interface {
	// Discover returns the current set of live/upcoming videos (type
	// "stream" only) the source knows about.
	Discover(ctx context.Context) ([]model.Video, error)
}

// cacheTTL bounds how long a Discover result may be served from cache
// before a source is queried again; it is intentionally shorter than
// the autoscheduler's own tick interval so a cache hit never masks two
// consecutive ticks' worth of staleness.
const cacheTTL = 60 * time.Second

// Resolve finds one video by id among c's current Discover results, for
// the single-video lookup POST /api/schedule needs (spec.md §6: "Resolve
// via discovery"). Unlike the autoscheduler's bulk sweep, a caller here
// already knows the id it wants; Resolve still has to pay for a full
// Discover since none of the upstream APIs expose a by-id lookup.
func Resolve(ctx context.Context, c Client, id string) (model.Video, bool, error) {
	videos, err := c.Discover(ctx)
	if err != nil {
		return model.Video{}, false, err
	}
	for _, v := range videos {
		if v.ID == id {
			return v, true, nil
		}
	}
	return model.Video{}, false, nil
}
