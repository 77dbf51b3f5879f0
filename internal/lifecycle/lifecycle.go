// Package lifecycle implements the Job Lifecycle Engine (C7): the
// per-job state machine that drives a waiting Job through preparing,
// downloading, muxing, uploading and cleaning to done, supervising the
// external recorder/extractor/mux/upload processes along the way and
// classifying their failures into a retry-next-tick or a terminal
// cancellation (spec.md §4.4).
//
// The state machine itself (internal/fsm.Machine) only ever validates
// one transition at a time and is checked out fresh per transition,
// since a Job's state must survive across ticks and process restarts —
// unlike a teacher Machine instance, which lives for the duration of
// one in-memory session. The actual per-stage work is a linear driver
// (runJob) that walks stageOrder forward, which is what lets recovery
// resume a job from its last_status instead of redoing completed work.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/holostream/archivist/internal/bus"
	"github.com/holostream/archivist/internal/chatcapture"
	"github.com/holostream/archivist/internal/dataset"
	"github.com/holostream/archivist/internal/extractor"
	"github.com/holostream/archivist/internal/fsm"
	"github.com/holostream/archivist/internal/log"
	"github.com/holostream/archivist/internal/metrics"
	"github.com/holostream/archivist/internal/model"
	"github.com/holostream/archivist/internal/notify"
	"github.com/holostream/archivist/internal/store"
)

// event is the Job Lifecycle Engine's fsm event alphabet.
type event string

const (
	evPrepare  event = "prepare"
	evDownload event = "download"
	evMux      event = "mux"
	evUpload   event = "upload"
	evClean    event = "clean"
	evDone     event = "done"
	evError    event = "error"
	evCancel   event = "cancel"
	evRecover  event = "recover"
)

const (
	defaultGracePeriod = 120 * time.Second
	defaultTickInterval = 60 * time.Second

	// updatesTopic is the bus topic the websocket hub and the bridge
	// both subscribe to for job state changes.
	updatesTopic = "job_updates"
)

// stageOrder is the pipeline in forward order; stageOrder[0] is always
// the first state entered after waiting. runJob walks it starting at
// whatever index the job's current state (or, on recovery, its
// last_status) maps to.
var stageOrder = []model.Status{
	model.StatusPreparing,
	model.StatusDownloading,
	model.StatusMuxing,
	model.StatusUploading,
	model.StatusCleaning,
	model.StatusDone,
}

func stageIndex(s model.Status) int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// transitions is the Engine's fixed fsm table. Every non-terminal state
// carries an explicit error and cancel edge since fsm.Machine has no
// wildcard transitions.
func transitions() []fsm.Transition[model.Status, event] {
	ts := []fsm.Transition[model.Status, event]{
		{From: model.StatusWaiting, Event: evPrepare, To: model.StatusPreparing},
		{From: model.StatusPreparing, Event: evDownload, To: model.StatusDownloading},
		{From: model.StatusDownloading, Event: evMux, To: model.StatusMuxing},
		{From: model.StatusMuxing, Event: evUpload, To: model.StatusUploading},
		{From: model.StatusUploading, Event: evClean, To: model.StatusCleaning},
		{From: model.StatusCleaning, Event: evDone, To: model.StatusDone},
		{From: model.StatusError, Event: evRecover, To: model.StatusPreparing},
	}
	for _, s := range []model.Status{
		model.StatusPreparing, model.StatusDownloading, model.StatusMuxing,
		model.StatusUploading, model.StatusCleaning,
	} {
		ts = append(ts,
			fsm.Transition[model.Status, event]{From: s, Event: evError, To: model.StatusError},
			fsm.Transition[model.Status, event]{From: s, Event: evCancel, To: model.StatusCancelled},
		)
	}
	return ts
}

// eventInto is the event that moves the machine into to, fired from
// whatever state precedes it in stageOrder.
func eventInto(to model.Status) event {
	switch to {
	case model.StatusDownloading:
		return evDownload
	case model.StatusMuxing:
		return evMux
	case model.StatusUploading:
		return evUpload
	case model.StatusCleaning:
		return evClean
	case model.StatusDone:
		return evDone
	default:
		return ""
	}
}

// Config tunes the Engine. Zero values fall back to spec defaults.
type Config struct {
	GracePeriod  time.Duration
	TickInterval time.Duration

	StreamDumpDir  string
	CookieFile     string
	ChatArchiveDir string

	UploadEnabled  bool
	RcloneRemote   string
	FFmpegBinary   string
	RcloneBinary   string
	MkvmergeBinary string
}

// Engine drives every non-terminal Job forward, one supervised task per
// job, on a periodic tick. Only the leader process runs an Engine
// (spec.md §4.7).
type Engine struct {
	Store      store.Store
	Extractors *extractor.Registry
	Dataset    *dataset.Index
	Bus        bus.Bus
	Config     Config

	// ChatCapture, when non-nil, is used to dispatch a C8 chat capture
	// goroutine the moment a YouTube job's download stage starts
	// (spec.md §4.5). ChatUploader, if also set, ships the finished
	// archive once the capture ends normally.
	ChatCapture  *chatcapture.Client
	ChatUploader *chatcapture.Uploader

	// Notifier, when non-nil, receives the same status transitions
	// published onto Bus, mirroring discord.py subscribing to the same
	// emit dispatch as the websocket handler.
	Notifier *notify.Notifier

	transitions []fsm.Transition[model.Status, event]

	mu     sync.Mutex
	active map[string]struct{}
}

// New wires an Engine ready for Run.
func New(st store.Store, extractors *extractor.Registry, ds *dataset.Index, b bus.Bus, cfg Config) *Engine {
	return &Engine{
		Store:       st,
		Extractors:  extractors,
		Dataset:     ds,
		Bus:         b,
		Config:      cfg,
		transitions: transitions(),
		active:      make(map[string]struct{}),
	}
}

// Run starts the ticker loop. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	interval := e.Config.TickInterval
	if interval <= 0 {
		interval = defaultTickInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.L().Info().Dur("interval", interval).Msg("lifecycle engine started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.TickOnce(ctx)
		}
	}
}

// TickOnce enumerates non-terminal jobs and spawns a supervised task
// for each eligible one not already running.
func (e *Engine) TickOnce(ctx context.Context) {
	jobs, err := e.Store.ListJobs(ctx, true)
	if err != nil {
		log.L().Warn().Err(err).Msg("lifecycle: list jobs failed")
		return
	}

	for _, j := range jobs {
		if j.Status.IsTerminal() {
			continue
		}
		if !e.tryMarkActive(j.ID) {
			continue
		}
		id := j.ID
		go func() {
			defer e.unmarkActive(id)
			e.runJob(ctx, id)
		}()
	}
}

func (e *Engine) tryMarkActive(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[id]; ok {
		return false
	}
	e.active[id] = struct{}{}
	return true
}

func (e *Engine) unmarkActive(id string) {
	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()
}

// eligible reports whether job is inside its recording window.
func (e *Engine) eligible(job *model.Job) bool {
	grace := e.Config.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	return !time.Now().Before(job.StartTime.Add(-grace))
}

// runJob drives one job from its current state to done, error or
// cancelled, performing at most the stage work that has not already
// completed.
func (e *Engine) runJob(ctx context.Context, jobID string) {
	job, err := e.Store.GetJob(ctx, jobID)
	if err != nil {
		log.L().Warn().Err(err).Str("id", jobID).Msg("lifecycle: failed to load job")
		return
	}

	startIdx := 0
	switch job.Status {
	case model.StatusWaiting:
		if !e.eligible(job) {
			return
		}
		if err := e.fire(ctx, job, evPrepare, nil); err != nil {
			log.L().Warn().Err(err).Str("id", job.ID).Msg("lifecycle: prepare transition failed")
			return
		}
	case model.StatusError:
		last := job.LastStatus
		if err := e.fire(ctx, job, evRecover, func(j *model.Job) { j.LastStatus = ""; j.Error = "" }); err != nil {
			log.L().Warn().Err(err).Str("id", job.ID).Msg("lifecycle: recover transition failed")
			return
		}
		startIdx = stageIndex(last)
		if startIdx < 0 {
			startIdx = 0
		}
	default:
		idx := stageIndex(job.Status)
		if idx < 0 {
			return
		}
		startIdx = idx
	}

	for i := 0; i < len(stageOrder)-1; i++ {
		target := stageOrder[i]

		if i >= startIdx {
			if err := e.stageWork(target)(ctx, job); err != nil {
				e.handleStageError(ctx, job, target, err)
				return
			}
		}

		next := stageOrder[i+1]
		if err := e.fire(ctx, job, eventInto(next), nil); err != nil {
			log.L().Warn().Err(err).Str("id", job.ID).Msg("lifecycle: stage transition failed")
			return
		}
	}
}

// stageWork returns the function that performs a stage's real work.
// preparing has none: entering it is itself the full step (spec.md
// §4.4 step 1, "transition and emit update event").
func (e *Engine) stageWork(stage model.Status) func(context.Context, *model.Job) error {
	switch stage {
	case model.StatusDownloading:
		return e.downloadStage
	case model.StatusMuxing:
		return e.muxStage
	case model.StatusUploading:
		return e.uploadStage
	case model.StatusCleaning:
		return e.cleanStage
	default:
		return func(context.Context, *model.Job) error { return nil }
	}
}

// fire checks out a one-shot Machine seeded with job's current status,
// fires ev, persists the resulting status (plus whatever mutate sets)
// and emits an update event. job is updated in place to the store's
// returned row.
func (e *Engine) fire(ctx context.Context, job *model.Job, ev event, mutate func(*model.Job)) error {
	m, err := fsm.New(job.Status, e.transitions)
	if err != nil {
		return fmt.Errorf("lifecycle: build machine: %w", err)
	}
	from := job.Status
	to, err := m.Fire(ctx, ev)
	if err != nil {
		return fmt.Errorf("lifecycle: fire %s from %s: %w", ev, from, err)
	}

	updated, err := e.Store.UpdateJob(ctx, job.ID, func(j *model.Job) error {
		j.Status = to
		if mutate != nil {
			mutate(j)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("lifecycle: persist transition: %w", err)
	}

	*job = *updated
	metrics.JobTransition.WithLabelValues(string(from), string(to), string(job.Platform)).Inc()
	e.emit(ctx, job)
	return nil
}

func (e *Engine) handleStageError(ctx context.Context, job *model.Job, stage model.Status, err error) {
	if isUnrecoverable(err) {
		msg := err.Error()
		if fireErr := e.fire(ctx, job, evCancel, func(j *model.Job) { j.Error = msg }); fireErr != nil {
			log.L().Warn().Err(fireErr).Str("id", job.ID).Msg("lifecycle: cancel transition failed")
		}
		return
	}

	msg := err.Error()
	if fireErr := e.fire(ctx, job, evError, func(j *model.Job) { j.LastStatus = stage; j.Error = msg }); fireErr != nil {
		log.L().Warn().Err(fireErr).Str("id", job.ID).Msg("lifecycle: error transition failed")
	}
}

// dispatchChatCapture starts an independent chat-capture goroutine for
// a YouTube job the moment its download stage begins, per spec.md
// §4.5. A PendingChatCapture row already present for this job means a
// capture is already running, is pending resume from a prior crash, or
// has finished and awaits a successful upload, so a second dispatch is
// skipped — the same dedup role
// `ChatManager._actives` plays in the original.
func (e *Engine) dispatchChatCapture(job *model.Job) {
	if e.ChatCapture == nil || job.Platform != model.PlatformYouTube {
		return
	}
	if _, err := e.Store.GetPendingChatCapture(context.Background(), job.ID); err == nil {
		return
	}

	cap := &chatcapture.Capture{
		Client:     e.ChatCapture,
		Store:      e.Store,
		ArchiveDir: e.Config.ChatArchiveDir,
		JobID:      job.ID,
		ChannelID:  job.ChannelID,
		Filename:   job.Filename,
		MemberOnly: job.MemberOnly,
		Platform:   job.Platform,
	}

	go func() {
		if err := cap.Run(context.Background()); err != nil {
			log.L().Debug().Err(err).Str("id", job.ID).Msg("lifecycle: chat capture ended")
			return
		}
		if e.ChatUploader == nil {
			return
		}
		if err := e.ChatUploader.Upload(context.Background(), job.ID, job.ChannelID, job.MemberOnly, cap.ArchivePath()); err != nil {
			log.L().Warn().Err(err).Str("id", job.ID).Msg("lifecycle: chat archive upload failed")
		}
	}()
}

func (e *Engine) emit(ctx context.Context, job *model.Job) {
	e.Notifier.NotifyUpdate(ctx, job)

	if e.Bus == nil {
		return
	}
	if err := e.Bus.Publish(ctx, updatesTopic, job); err != nil {
		log.L().Debug().Err(err).Str("id", job.ID).Msg("lifecycle: publish update dropped")
	}
}
