// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command archivist boots the full pipeline: job store, dataset index,
// discovery, extractors, the lifecycle engine, the autoscheduler, the
// multi-process bridge, the websocket hub, and the HTTP API, wiring each
// one the way cmd/daemon wires xg2g's own subsystems.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/holostream/archivist/internal/api"
	"github.com/holostream/archivist/internal/audit"
	"github.com/holostream/archivist/internal/autoscheduler"
	"github.com/holostream/archivist/internal/bridge"
	"github.com/holostream/archivist/internal/bus"
	"github.com/holostream/archivist/internal/chatcapture"
	"github.com/holostream/archivist/internal/config"
	"github.com/holostream/archivist/internal/dataset"
	"github.com/holostream/archivist/internal/discovery"
	"github.com/holostream/archivist/internal/extractor"
	"github.com/holostream/archivist/internal/lifecycle"
	"github.com/holostream/archivist/internal/log"
	"github.com/holostream/archivist/internal/model"
	"github.com/holostream/archivist/internal/notify"
	"github.com/holostream/archivist/internal/records"
	"github.com/holostream/archivist/internal/store"
	"github.com/holostream/archivist/internal/telemetry"
	"github.com/holostream/archivist/internal/wshub"
)

var (
	version = "v0.1.0"
	commit  = "none"
)

const shutdownTimeout = 15 * time.Second

func main() {
	log.Configure(log.Config{Level: "info", Service: "archivist", Version: version})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Str("event", "config.load_failed").Msg("failed to load configuration")
	}

	logger.Info().Str("event", "startup").Str("version", version).Str("commit", commit).
		Str("addr", cfg.ListenAddr).Msg("starting archivist")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.OTLPEnabled,
		ServiceName:    "archivist",
		ServiceVersion: version,
		ExporterType:   "grpc",
		Endpoint:       cfg.OTLPEndpoint,
		SamplingRate:   1.0,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "telemetry.init_failed").Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown error")
		}
	}()

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "store.open_failed").Msg("failed to open job store")
	}
	defer func() { _ = st.Close() }()

	if n, err := st.RecoverStaleJobs(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to recover stale jobs on startup")
	} else if n > 0 {
		logger.Info().Int("count", n).Msg("recovered stale jobs left mid-stage by a previous run")
	}

	ds, err := dataset.Open(cfg.DatasetDir, cfg.DatasetBadgerDir)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "dataset.open_failed").Msg("failed to open dataset index")
	}
	defer func() { _ = ds.Close() }()

	refresher := &dataset.Refresher{Index: ds, RemoteHashURL: cfg.DatasetRemoteHashURL}

	disco := discovery.NewMulti(
		discovery.NewAggregatorClient(cfg.DiscoveryBaseURL, cfg.DiscoveryAPIKey),
		discovery.NewLiveIndexClient(cfg.LiveIndexEndpoint),
	)

	extractors := extractor.NewRegistry(cfg.CookieFile)

	eventBus := bus.NewMemoryBus()

	hub := wshub.NewHub(st)

	var chatClient *chatcapture.Client
	var chatUploader *chatcapture.Uploader
	if cfg.CookieFile != "" {
		chatClient, err = chatcapture.NewClient(cfg.CookieFile)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to build chat capture client, chat capture disabled")
		} else {
			chatUploader = &chatcapture.Uploader{
				Store:        st,
				Dataset:      ds,
				RcloneRemote: cfg.UploadBackendTarget,
				RcloneBinary: cfg.RcloneBinary,
			}
		}
	}

	notifier := notify.New(cfg.NotificationWebhookURL)

	engine := lifecycle.New(st, extractors, ds, eventBus, lifecycle.Config{
		GracePeriod:    time.Duration(cfg.GracePeriodSeconds) * time.Second,
		TickInterval:   time.Duration(cfg.DownloaderTickSeconds) * time.Second,
		StreamDumpDir:  cfg.StreamDumpDir,
		CookieFile:     cfg.CookieFile,
		ChatArchiveDir: cfg.ChatArchiveDir,
		UploadEnabled:  !cfg.UploadDisabled,
		RcloneRemote:   cfg.UploadBackendTarget,
		FFmpegBinary:   cfg.FFmpegBinary,
		RcloneBinary:   cfg.RcloneBinary,
		MkvmergeBinary: cfg.MkvmergeBinary,
	})
	engine.ChatCapture = chatClient
	engine.ChatUploader = chatUploader
	engine.Notifier = notifier

	scheduler := &autoscheduler.Scheduler{
		Store:     st,
		Discovery: disco,
		Interval:  time.Duration(cfg.AutoschedulerTickSeconds) * time.Second,
		OnScheduled: func(job *model.Job) {
			hub.Emit("job_scheduled", model.NewJobView(job), "")
			notifier.NotifySchedule(context.Background(), job)
			if err := eventBus.Publish(context.Background(), "job_updates", job); err != nil {
				log.L().Warn().Err(err).Str("id", job.ID).Msg("main: failed to publish auto-scheduled job")
			}
		},
	}

	proc := &bridge.Bridge{
		LockPath:   cfg.LeaderLockPath,
		SocketPath: cfg.IPCSocketPath,
		Hub:        hub,
		Bus:        eventBus,
	}

	recordsIndex := &records.Index{
		Builder:  &records.Builder{Binary: cfg.RcloneBinary, RemoteTarget: cfg.UploadBackendTarget},
		Disabled: cfg.UploadBackendTarget == "",
	}

	apiServer := &api.Server{
		Store:     st,
		Discovery: disco,
		Bus:       eventBus,
		Hub:       hub,
		Records:   recordsIndex,
		Notifier:  notifier,
		Audit:     audit.NewLogger(),
		Config: api.Config{
			Password:       cfg.APIPassword,
			AllowedOrigins: []string{"*"},
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// spec.md §4.7: only the leader process runs the Lifecycle Engine,
	// the Autoscheduler, the Dataset watcher/refresher, and (via the
	// Engine) the Chat Capture dispatcher — a follower driving the same
	// store would duplicate every subprocess the leader already runs.
	// proc.OnRole fires once Bridge.Run's advisory-flock election
	// resolves; isLeader gates the subsystems below, and roleReady lets
	// each of their goroutines block until that happens instead of
	// racing the election.
	var isLeader atomic.Bool
	roleReady := make(chan struct{})
	proc.OnRole = func(leader bool) {
		isLeader.Store(leader)
		close(roleReady)
	}

	leaderOnly := func(run func(context.Context) error) func() error {
		return func() error {
			select {
			case <-roleReady:
			case <-gctx.Done():
				return gctx.Err()
			}
			if !isLeader.Load() {
				return nil
			}
			return run(gctx)
		}
	}

	g.Go(leaderOnly(ds.Run))
	g.Go(leaderOnly(func(ctx context.Context) error { refresher.Run(ctx); return nil }))
	g.Go(func() error { return hub.Run(gctx, eventBus) })
	g.Go(leaderOnly(func(ctx context.Context) error { engine.Run(ctx); return nil }))
	g.Go(leaderOnly(func(ctx context.Context) error { scheduler.Run(ctx); return nil }))
	g.Go(func() error { recordsIndex.Run(gctx); return nil })
	g.Go(func() error {
		if err := proc.Run(gctx); err != nil && gctx.Err() == nil {
			logger.Warn().Err(err).Msg("bridge exited")
		}
		return nil
	})

	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("http api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("archivist exited with error")
		os.Exit(1)
	}

	logger.Info().Msg("archivist exited cleanly")
}
