package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/holostream/archivist/internal/bus"
	"github.com/holostream/archivist/internal/dataset"
	"github.com/holostream/archivist/internal/extractor"
	"github.com/holostream/archivist/internal/model"
	"github.com/holostream/archivist/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	eng := New(st, extractor.NewRegistry(""), &dataset.Index{}, bus.NewMemoryBus(), Config{
		StreamDumpDir: t.TempDir(),
	})
	return eng, st
}

func TestRunJob_MemberOnlyWithoutCookieCancelsImmediately(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	job := &model.Job{
		ID:         "tc1",
		Platform:   model.PlatformTwitcasting,
		MemberOnly: true,
		Status:     model.StatusWaiting,
		StartTime:  time.Now().Add(-time.Hour),
	}
	_, err := st.UpsertJob(ctx, job)
	require.NoError(t, err)

	eng.runJob(ctx, job.ID)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, got.Status)
	require.Contains(t, got.Error, "member-only")
}

func TestRunJob_EligibilityGateSkipsFutureJob(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	job := &model.Job{
		ID:        "future1",
		Platform:  model.PlatformYouTube,
		Status:    model.StatusWaiting,
		StartTime: time.Now().Add(time.Hour),
	}
	_, err := st.UpsertJob(ctx, job)
	require.NoError(t, err)

	eng.runJob(ctx, job.ID)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusWaiting, got.Status, "a job outside its grace window must not be touched")
}

func TestRunJob_UnsupportedPlatformMarksRecoverableError(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	job := &model.Job{
		ID:        "bad1",
		Platform:  model.Platform("carrd"),
		Status:    model.StatusWaiting,
		StartTime: time.Now().Add(-time.Hour),
	}
	_, err := st.UpsertJob(ctx, job)
	require.NoError(t, err)

	eng.runJob(ctx, job.ID)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusError, got.Status)
	require.Equal(t, model.StatusDownloading, got.LastStatus)
}

func TestRunJob_RecoveryResumesFromLastStatusWithoutRedoingDownload(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	// MemberOnly + no cookie makes the download stage cancel outright if
	// it were (incorrectly) re-run; a job resuming from last_status
	// "uploading" must skip straight past it.
	job := &model.Job{
		ID:         "resume1",
		Platform:   model.PlatformTwitcasting,
		MemberOnly: true,
		Status:     model.StatusError,
		LastStatus: model.StatusUploading,
		StartTime:  time.Now().Add(-time.Hour),
	}
	_, err := st.UpsertJob(ctx, job)
	require.NoError(t, err)

	eng.runJob(ctx, job.ID)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusDone, got.Status)
	require.Empty(t, got.LastStatus)
	require.Empty(t, got.Error)
}

func TestEligible(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.Config.GracePeriod = 2 * time.Minute

	require.True(t, eng.eligible(&model.Job{StartTime: time.Now()}))
	require.True(t, eng.eligible(&model.Job{StartTime: time.Now().Add(time.Minute)}))
	require.False(t, eng.eligible(&model.Job{StartTime: time.Now().Add(10 * time.Minute)}))
}

func TestTickOnce_DoesNotDoubleDispatchAnActiveJob(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	job := &model.Job{
		ID:        "active1",
		Platform:  model.PlatformYouTube,
		Status:    model.StatusWaiting,
		StartTime: time.Now().Add(-time.Hour),
	}
	_, err := st.UpsertJob(ctx, job)
	require.NoError(t, err)

	require.True(t, eng.tryMarkActive(job.ID))
	require.False(t, eng.tryMarkActive(job.ID), "a job already marked active must not be claimed twice")

	eng.TickOnce(ctx)
	time.Sleep(20 * time.Millisecond)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusWaiting, got.Status, "the already-active job must not have been dispatched again")
}

func TestEngine_RunStopsOnContextCancel(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.Config.TickInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestIsUnrecoverable(t *testing.T) {
	require.True(t, isUnrecoverable(fmt.Errorf("wrap: %w", model.ErrUnrecoverableCancel)))
	require.True(t, isUnrecoverable(&model.ExtractorError{Kind: model.ExtractorGeoRestricted, Message: "blocked"}))
	require.False(t, isUnrecoverable(model.ErrRecoverableStage))
	require.False(t, isUnrecoverable(errors.New("plain")))
}

func TestClassifyExtractorErr(t *testing.T) {
	wrapped := classifyExtractorErr(&model.ExtractorError{Kind: model.ExtractorLoginRequired, Message: "need login"})
	require.ErrorIs(t, wrapped, model.ErrUnrecoverableCancel)

	wrapped = classifyExtractorErr(errors.New("transient network blip"))
	require.ErrorIs(t, wrapped, model.ErrRecoverableStage)
}

func TestMuxedPath(t *testing.T) {
	eng, _ := newTestEngine(t)

	twitter := &model.Job{Platform: model.PlatformTwitter, Filename: "space1"}
	require.Contains(t, eng.muxedPath(twitter), "space1 [AAC].m4a")

	yt := &model.Job{Platform: model.PlatformYouTube, Filename: "stream1", Resolution: "1080p60"}
	require.Contains(t, eng.muxedPath(yt), "stream1 [1080p60].mkv")

	noRes := &model.Job{Platform: model.PlatformYouTube, Filename: "stream2"}
	require.Contains(t, eng.muxedPath(noRes), "stream2 [Unknown].mkv")
}

func TestDispatchChatCapture_NoopWithoutChatClientConfigured(t *testing.T) {
	eng, _ := newTestEngine(t)
	// No ChatCapture configured: must not panic and must not register a
	// pending capture row.
	job := &model.Job{ID: "yt1", Platform: model.PlatformYouTube, ChannelID: "UC1"}
	eng.dispatchChatCapture(job)

	_, err := eng.Store.GetPendingChatCapture(context.Background(), job.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDispatchChatCapture_SkipsNonYoutubePlatforms(t *testing.T) {
	eng, _ := newTestEngine(t)
	job := &model.Job{ID: "tw1", Platform: model.PlatformTwitch}
	eng.dispatchChatCapture(job) // must not panic even with no ChatCapture configured
}

func TestPlatformWatchURL(t *testing.T) {
	require.Equal(t, "https://twitcasting.tv/someuser/movie/tc123",
		platformWatchURL(&model.Job{Platform: model.PlatformTwitcasting, ChannelID: "someuser", ID: "tc123"}))
	require.Equal(t, "https://www.mildom.com/mild1",
		platformWatchURL(&model.Job{Platform: model.PlatformMildom, ChannelID: "mild1"}))
}
