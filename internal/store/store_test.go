package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/holostream/archivist/internal/model"
	"github.com/holostream/archivist/internal/store"
)

func newStores(t *testing.T) map[string]store.Store {
	t.Helper()
	sqlitePath := filepath.Join(t.TempDir(), "jobs.db")
	sq, err := store.Open(sqlitePath)
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	return map[string]store.Store{
		"sqlite": sq,
		"memory": store.NewMemoryStore(),
	}
}

func TestUpsertJob_IdempotentOnIdentity(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			j := &model.Job{ID: "abc123", Title: "first title", Platform: model.PlatformYouTube, Status: model.StatusWaiting, StartTime: time.Now()}

			created, err := s.UpsertJob(ctx, j)
			require.NoError(t, err)
			require.True(t, created)

			j2 := &model.Job{ID: "abc123", Title: "updated title", Platform: model.PlatformYouTube, Status: model.StatusWaiting, StartTime: j.StartTime}
			created, err = s.UpsertJob(ctx, j2)
			require.NoError(t, err)
			require.False(t, created, "second upsert of same id must not be reported as a new row")

			got, err := s.GetJob(ctx, "abc123")
			require.NoError(t, err)
			require.Equal(t, "updated title", got.Title)

			all, err := s.ListJobs(ctx, true)
			require.NoError(t, err)
			require.Len(t, all, 1)
		})
	}
}

func TestUpsertJob_PreservesStatusOnMerge(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			j := &model.Job{ID: "running1", Title: "first title", Platform: model.PlatformYouTube, Status: model.StatusWaiting, StartTime: time.Now()}
			_, err := s.UpsertJob(ctx, j)
			require.NoError(t, err)

			got, err := s.UpdateJob(ctx, "running1", func(job *model.Job) error {
				job.Status = model.StatusDownloading
				job.LastStatus = model.StatusWaiting
				job.Resolution = "1080p"
				return nil
			})
			require.NoError(t, err)
			require.Equal(t, model.StatusDownloading, got.Status)

			// A re-POST of /api/schedule always constructs the incoming
			// job with Status: model.StatusWaiting; it must not reset a
			// job that is actively downloading.
			reposted := &model.Job{ID: "running1", Title: "refreshed title", Platform: model.PlatformYouTube, Status: model.StatusWaiting, StartTime: j.StartTime}
			created, err := s.UpsertJob(ctx, reposted)
			require.NoError(t, err)
			require.False(t, created)

			after, err := s.GetJob(ctx, "running1")
			require.NoError(t, err)
			require.Equal(t, "refreshed title", after.Title)
			require.Equal(t, model.StatusDownloading, after.Status, "merge must not reset a job's in-flight status")
			require.Equal(t, model.StatusWaiting, after.LastStatus)
			require.Equal(t, "1080p", after.Resolution)
		})
	}
}

func TestJob_LastStatusInvariant(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			j := &model.Job{ID: "x1", Platform: model.PlatformTwitch, Status: model.StatusDownloading, StartTime: time.Now()}
			_, err := s.UpsertJob(ctx, j)
			require.NoError(t, err)

			_, err = s.UpdateJob(ctx, "x1", func(j *model.Job) error {
				j.LastStatus = j.Status
				j.Status = model.StatusError
				j.Error = "io error"
				return nil
			})
			require.NoError(t, err)

			got, err := s.GetJob(ctx, "x1")
			require.NoError(t, err)
			require.True(t, got.Recoverable())
			require.Equal(t, model.StatusDownloading, got.LastStatus)
		})
	}
}

func TestRecoverStaleJobs_DemotesInFlightRows(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.UpsertJob(ctx, &model.Job{ID: "crash1", Platform: model.PlatformYouTube, Status: model.StatusDownloading, StartTime: time.Now()})
			require.NoError(t, err)
			_, err = s.UpsertJob(ctx, &model.Job{ID: "done1", Platform: model.PlatformYouTube, Status: model.StatusDone, StartTime: time.Now()})
			require.NoError(t, err)

			n, err := s.RecoverStaleJobs(ctx)
			require.NoError(t, err)
			require.Equal(t, 1, n)

			got, err := s.GetJob(ctx, "crash1")
			require.NoError(t, err)
			require.Equal(t, model.StatusError, got.Status)
			require.Equal(t, model.StatusDownloading, got.LastStatus)

			untouched, err := s.GetJob(ctx, "done1")
			require.NoError(t, err)
			require.Equal(t, model.StatusDone, untouched.Status)
		})
	}
}

func TestAutoRule_InsertDeleteRoundTrip(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			before, err := s.ListAutoRules(ctx)
			require.NoError(t, err)

			err = s.InsertAutoRule(ctx, &model.AutoRule{ID: "r1", Type: model.RuleTypeWord, Data: "karaoke", Include: true})
			require.NoError(t, err)
			err = s.DeleteAutoRule(ctx, "r1")
			require.NoError(t, err)

			after, err := s.ListAutoRules(ctx)
			require.NoError(t, err)
			require.Len(t, after, len(before), "insert then delete must leave the rule set unchanged")
		})
	}
}

func TestUpdateAutoRule_RejectsNoOp(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.InsertAutoRule(ctx, &model.AutoRule{ID: "r2", Type: model.RuleTypeChannel, Data: "UC123", Include: true}))

			_, err := s.UpdateAutoRule(ctx, "r2", func(r *model.AutoRule) error { return nil })
			require.ErrorIs(t, err, store.ErrNoOpUpdate)
		})
	}
}
