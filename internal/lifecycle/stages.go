package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/holostream/archivist/internal/model"
	"github.com/holostream/archivist/internal/subprocrunner"
)

// isUnrecoverable reports whether err carries a classification that
// should cancel the job outright rather than retry it on a later tick.
func isUnrecoverable(err error) bool {
	if errors.Is(err, model.ErrUnrecoverableCancel) {
		return true
	}
	var extErr *model.ExtractorError
	return errors.As(err, &extErr)
}

// downloadStage is spec.md §4.4 step 2: platform-dispatched recording.
func (e *Engine) downloadStage(ctx context.Context, job *model.Job) error {
	e.dispatchChatCapture(job)

	switch job.Platform {
	case model.PlatformYouTube:
		return e.downloadYouTube(ctx, job)
	case model.PlatformTwitter:
		return e.downloadTwitterSpace(ctx, job)
	case model.PlatformTwitcasting, model.PlatformMildom:
		return e.downloadViaExtractor(ctx, job)
	case model.PlatformTwitch:
		return e.downloadTwitch(ctx, job)
	default:
		return fmt.Errorf("lifecycle: unsupported platform %q", job.Platform)
	}
}

func (e *Engine) tempPath(job *model.Job, ext string) string {
	return filepath.Join(e.Config.StreamDumpDir, job.ID+" [temp]"+ext)
}

// downloadYouTube runs the primary recorder first, falling back to the
// generic extractor + ffmpeg mux on the documented "livestream...
// youtube-dl" marker (spec.md §4.4 step 2, YouTube branch).
func (e *Engine) downloadYouTube(ctx context.Context, job *model.Job) error {
	url := "https://www.youtube.com/watch?v=" + job.ID
	out := e.tempPath(job, ".mp4")

	args := []string{"-f", "bestvideo+bestaudio/best", "-o", out}
	if e.Config.CookieFile != "" {
		args = append(args, "--cookies", e.Config.CookieFile)
	}
	args = append(args, url)

	r := subprocrunner.New("yt-dlp", args, subprocrunner.Stderr, subprocrunner.YoutubeRecorderClassifier, 0).WithStopOnFatal(true)
	res, err := e.runAndWait(ctx, r)
	if err != nil {
		return err
	}
	if res.ExitCode == 0 {
		return nil
	}
	if subprocrunner.IsRecorderCancellation(res.Diagnostic) {
		return fmt.Errorf("youtube recorder: %s: %w", res.Diagnostic, model.ErrUnrecoverableCancel)
	}
	if subprocrunner.IsFallbackEligible(res.Diagnostic) {
		return e.downloadYouTubeFallback(ctx, job, url)
	}
	if res.Diagnostic == "spawn blocked" {
		return fmt.Errorf("youtube recorder: %w", model.ErrSpawnFailed)
	}
	return fmt.Errorf("youtube recorder exited %d: %s: %w", res.ExitCode, res.Diagnostic, model.ErrRecoverableStage)
}

func (e *Engine) downloadYouTubeFallback(ctx context.Context, job *model.Job, url string) error {
	ext, ok := e.Extractors.Resolve(model.PlatformYouTube)
	if !ok {
		return fmt.Errorf("lifecycle: no youtube extractor registered: %w", model.ErrRecoverableStage)
	}
	result, err := ext.Process(ctx, url)
	if err != nil {
		return fmt.Errorf("youtube fallback extractor: %w", classifyExtractorErr(err))
	}
	if len(result.URLs) < 2 {
		return fmt.Errorf("lifecycle: fallback extractor returned %d stream(s), need a video+audio pair: %w", len(result.URLs), model.ErrExtractorEmpty)
	}

	e.recordResolution(ctx, job, result.Resolution)

	out := e.tempPath(job, ".mp4")
	return e.runFFmpeg(ctx, []string{"-y", "-i", result.URLs[0].URL, "-i", result.URLs[1].URL, "-c", "copy", out})
}

// downloadTwitterSpace resolves a Space and muxes its audio source into
// an .m4a, tagging the title as metadata (spec.md §4.4 step 2, Twitter
// Spaces branch).
func (e *Engine) downloadTwitterSpace(ctx context.Context, job *model.Job) error {
	ext, ok := e.Extractors.Resolve(model.PlatformTwitter)
	if !ok {
		return fmt.Errorf("lifecycle: no twitter extractor registered: %w", model.ErrRecoverableStage)
	}
	result, err := ext.Process(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("twitter space extractor: %w", classifyExtractorErr(err))
	}
	if len(result.URLs) == 0 {
		return fmt.Errorf("lifecycle: twitter extractor returned no stream: %w", model.ErrExtractorEmpty)
	}

	out := e.tempPath(job, ".m4a")
	return e.runFFmpeg(ctx, []string{"-y", "-i", result.URLs[0].URL, "-metadata", "title=" + job.Title, "-c", "copy", out})
}

// downloadViaExtractor covers Twitcasting and Mildom: extractor resolve
// then ffmpeg mux, with an immediate cancel when a member-only stream
// has no cookie credential configured (spec.md §4.4 step 2).
func (e *Engine) downloadViaExtractor(ctx context.Context, job *model.Job) error {
	if job.MemberOnly && e.Config.CookieFile == "" {
		return fmt.Errorf("lifecycle: %s stream is member-only and no cookie file is configured: %w", job.Platform, model.ErrUnrecoverableCancel)
	}

	ext, ok := e.Extractors.Resolve(job.Platform)
	if !ok {
		return fmt.Errorf("lifecycle: no extractor registered for %s: %w", job.Platform, model.ErrRecoverableStage)
	}
	result, err := ext.Process(ctx, platformWatchURL(job))
	if err != nil {
		return fmt.Errorf("%s extractor: %w", job.Platform, classifyExtractorErr(err))
	}
	if len(result.URLs) == 0 {
		return fmt.Errorf("lifecycle: extractor returned no stream: %w", model.ErrExtractorEmpty)
	}

	e.recordResolution(ctx, job, result.Resolution)

	out := e.tempPath(job, ".mp4")
	return e.runFFmpeg(ctx, []string{"-y", "-i", result.URLs[0].URL, "-c", "copy", out})
}

func platformWatchURL(job *model.Job) string {
	switch job.Platform {
	case model.PlatformTwitcasting:
		return "https://twitcasting.tv/" + job.ChannelID + "/movie/" + job.ID
	case model.PlatformMildom:
		return "https://www.mildom.com/" + job.ChannelID
	default:
		return job.ID
	}
}

// downloadTwitch reads the streamlink-style live handle in a loop to a
// .ts file until stream end, per spec.md §4.4 step 2's Twitch branch.
func (e *Engine) downloadTwitch(ctx context.Context, job *model.Job) error {
	ext, ok := e.Extractors.Resolve(model.PlatformTwitch)
	if !ok {
		return fmt.Errorf("lifecycle: no twitch extractor registered: %w", model.ErrRecoverableStage)
	}
	result, err := ext.Process(ctx, "https://twitch.tv/"+job.ChannelID)
	if err != nil {
		return fmt.Errorf("twitch extractor: %w", classifyExtractorErr(err))
	}
	if result.Stream == nil {
		return fmt.Errorf("lifecycle: twitch extractor returned no live stream handle: %w", model.ErrExtractorEmpty)
	}
	defer result.Stream.Close()

	e.recordResolution(ctx, job, result.Resolution)

	out := e.tempPath(job, ".ts")
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("lifecycle: create twitch dump file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 64*1024)
	for {
		n, readErr := result.Stream.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("lifecycle: write twitch dump: %w", werr)
			}
		}
		if readErr != nil {
			if readErr == io.EOF || n == 0 {
				return nil
			}
			return fmt.Errorf("lifecycle: twitch stream read: %v: %w", readErr, model.ErrRecoverableStage)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (e *Engine) recordResolution(ctx context.Context, job *model.Job, resolution string) {
	if resolution == "" {
		return
	}
	if updated, err := e.Store.UpdateJob(ctx, job.ID, func(j *model.Job) error { j.Resolution = resolution; return nil }); err == nil {
		*job = *updated
	}
}

func (e *Engine) runFFmpeg(ctx context.Context, args []string) error {
	binary := e.Config.FFmpegBinary
	if binary == "" {
		binary = "ffmpeg"
	}
	r := subprocrunner.New(binary, args, subprocrunner.Stderr, subprocrunner.FFmpegClassifier, 0)
	res, err := e.runAndWait(ctx, r)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("ffmpeg exited %d: %s: %w", res.ExitCode, res.Diagnostic, model.ErrRecoverableStage)
	}
	return nil
}

func (e *Engine) runAndWait(ctx context.Context, r *subprocrunner.Runner) (subprocrunner.Result, error) {
	if err := r.Start(ctx); err != nil {
		return subprocrunner.Result{}, fmt.Errorf("lifecycle: start %s: %w", r.Binary, err)
	}
	res, err := r.Wait(ctx)
	if err != nil {
		return subprocrunner.Result{}, fmt.Errorf("lifecycle: wait %s: %w", r.Binary, err)
	}
	return res, nil
}

// locateTempFile tolerates the recorder having chosen .mp4, .ts or
// .m4a, per spec.md §4.4 step 3's prefix-scan fallback.
func (e *Engine) locateTempFile(job *model.Job) (string, error) {
	prefix := job.ID + " [temp]"
	entries, err := os.ReadDir(e.Config.StreamDumpDir)
	if err != nil {
		return "", fmt.Errorf("read stream dump dir: %w", err)
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		switch filepath.Ext(name) {
		case ".mp4", ".ts", ".m4a":
			return filepath.Join(e.Config.StreamDumpDir, name), nil
		}
	}
	return "", fmt.Errorf("no temp file found for job %q with prefix %q", job.ID, prefix)
}

// muxedPath is the deterministic final artifact name muxStage produces
// and uploadStage/cleanStage later locate by recomputing it.
func (e *Engine) muxedPath(job *model.Job) string {
	if job.Platform == model.PlatformTwitter {
		return filepath.Join(e.Config.StreamDumpDir, job.Filename+" [AAC].m4a")
	}
	resLabel := job.Resolution
	if resLabel == "" {
		resLabel = "Unknown"
	}
	return filepath.Join(e.Config.StreamDumpDir, fmt.Sprintf("%s [%s].mkv", job.Filename, resLabel))
}

// muxStage is spec.md §4.4 step 3.
func (e *Engine) muxStage(ctx context.Context, job *model.Job) error {
	tempPath, err := e.locateTempFile(job)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrRecoverableStage, err)
	}

	final := e.muxedPath(job)

	if job.Platform == model.PlatformTwitter {
		if err := os.Rename(tempPath, final); err != nil {
			return fmt.Errorf("lifecycle: rename twitter space artifact: %w", err)
		}
		return nil
	}

	binary := e.Config.MkvmergeBinary
	if binary == "" {
		binary = "mkvmerge"
	}
	r := subprocrunner.New(binary, []string{"-o", final, tempPath}, subprocrunner.Both, subprocrunner.MkvmergeClassifier, 0)
	res, err := e.runAndWait(ctx, r)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("mkvmerge exited %d: %s: %w", res.ExitCode, strings.Join(r.LastLogLines(20), "\n"), model.ErrRecoverableStage)
	}
	return nil
}

// uploadStage is spec.md §4.4 step 4. A disabled upload backend is a
// no-op, not a skipped stage — the job still passes through uploading.
func (e *Engine) uploadStage(ctx context.Context, job *model.Job) error {
	if !e.Config.UploadEnabled {
		return nil
	}

	artifact := e.muxedPath(job)
	if _, err := os.Stat(artifact); err != nil {
		return fmt.Errorf("%w: muxed artifact missing: %v", model.ErrRecoverableStage, err)
	}

	base := e.Dataset.UploadBase(false, job.MemberOnly, job.ChannelID)
	remote := fmt.Sprintf("%s:%s/%s", e.Config.RcloneRemote, base, filepath.Base(artifact))

	binary := e.Config.RcloneBinary
	if binary == "" {
		binary = "rclone"
	}
	r := subprocrunner.New(binary, []string{"copyto", artifact, remote}, subprocrunner.Stdout, subprocrunner.RcloneClassifier, 0)
	res, err := e.runAndWait(ctx, r)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("rclone exited %d: %s: %w", res.ExitCode, res.Diagnostic, model.ErrRecoverableStage)
	}
	return nil
}

// cleanStage is spec.md §4.4 step 5: delete the temp file always,
// delete the muxed artifact only if an upload actually ran.
func (e *Engine) cleanStage(ctx context.Context, job *model.Job) error {
	if tempPath, err := e.locateTempFile(job); err == nil {
		if rmErr := os.Remove(tempPath); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("lifecycle: remove temp file: %w", rmErr)
		}
	}

	if e.Config.UploadEnabled {
		artifact := e.muxedPath(job)
		if rmErr := os.Remove(artifact); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("lifecycle: remove muxed artifact: %w", rmErr)
		}
	}
	return nil
}

func classifyExtractorErr(err error) error {
	var extErr *model.ExtractorError
	if errors.As(err, &extErr) {
		return fmt.Errorf("%w: %s", model.ErrUnrecoverableCancel, extErr.Message)
	}
	return fmt.Errorf("%v: %w", err, model.ErrRecoverableStage)
}
