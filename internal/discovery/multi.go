package discovery

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/holostream/archivist/internal/log"
	"github.com/holostream/archivist/internal/model"
)

// Multi fans a single Discover call out across every configured source
// concurrently and concatenates the results (spec.md §4.3 step 3: "Query
// discovery for live/upcoming videos"). One source's failure does not
// fail the whole tick; it is logged and its videos are simply absent
// from that tick.
type Multi struct {
	Sources []Client
}

func NewMulti(sources ...Client) *Multi {
	return &Multi{Sources: sources}
}

func (m *Multi) Discover(ctx context.Context) ([]model.Video, error) {
	results := make([][]model.Video, len(m.Sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range m.Sources {
		i, src := i, src
		g.Go(func() error {
			videos, err := src.Discover(gctx)
			if err != nil {
				log.L().Warn().Err(err).Int("source", i).Msg("discovery: source failed, skipping for this tick")
				return nil
			}
			results[i] = videos
			return nil
		})
	}
	// errgroup.Wait only returns non-nil if a Go func returns a non-nil
	// error; sources report their own failures above and always return
	// nil, so this only ever surfaces ctx cancellation.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []model.Video
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}
