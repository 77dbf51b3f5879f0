// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package records

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/holostream/archivist/internal/log"
	"github.com/holostream/archivist/internal/metrics"
)

// Snapshot is one built-and-cached records tree.
type Snapshot struct {
	Root      *Node
	TotalSize int64
	BuiltAt   time.Time
}

// defaultInterval mirrors records.py's next_run: refresh on the hour.
// A fixed interval is simpler to reason about than "top of the hour"
// and is equally acceptable per spec.md §6, which only requires the
// tree be periodically refreshed.
const defaultInterval = time.Hour

// Index serves the current records Snapshot and keeps it fresh by
// periodically re-running a Builder. Disabled mirrors
// app.config.RCLONE_DISABLE: when true, Run never builds and every
// Snapshot call reports "not yet built" (-> 404 per records.py's route).
type Index struct {
	Builder  *Builder
	Interval time.Duration
	Disabled bool

	current atomic.Pointer[Snapshot]
}

// Snapshot returns the current tree, or (nil, false) if none has been
// built yet (matches app.vtrecords.data is None -> 404 in records.py).
func (idx *Index) Snapshot() (*Snapshot, bool) {
	s := idx.current.Load()
	if s == nil {
		return nil, false
	}
	return s, true
}

// Refresh runs the Builder once and swaps in the result if it produced
// at least one archive-rooted entry; a nil root (no matching paths)
// leaves the previous snapshot, if any, in place rather than clobbering
// it with an empty tree.
func (idx *Index) Refresh(ctx context.Context) error {
	if idx.Disabled {
		return nil
	}
	root, total, err := idx.Builder.Build(ctx)
	if err != nil {
		metrics.RecordsBuildOutcome.WithLabelValues("error").Inc()
		return err
	}
	if root == nil {
		metrics.RecordsBuildOutcome.WithLabelValues("ok").Inc()
		return nil
	}
	idx.current.Store(&Snapshot{Root: root, TotalSize: total, BuiltAt: time.Now()})
	metrics.RecordsBuildOutcome.WithLabelValues("ok").Inc()
	return nil
}

// Run blocks, refreshing on Interval (default defaultInterval) until
// ctx is cancelled. It refreshes once immediately so the first /api/
// records caller after startup doesn't see an empty tree.
func (idx *Index) Run(ctx context.Context) {
	if idx.Disabled {
		return
	}
	if err := idx.Refresh(ctx); err != nil {
		log.L().Warn().Err(err).Msg("records: initial build failed")
	}

	interval := idx.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := idx.Refresh(ctx); err != nil {
				log.L().Warn().Err(err).Msg("records: refresh failed")
			}
		}
	}
}
