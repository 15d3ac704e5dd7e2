// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon assembles one mediacore node from its configuration and
// owns the lifecycle of its long-running subsystems.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/mediacore/internal/api"
	"github.com/ManuGH/mediacore/internal/config"
	"github.com/ManuGH/mediacore/internal/coord"
	"github.com/ManuGH/mediacore/internal/jobs"
	"github.com/ManuGH/mediacore/internal/library"
	"github.com/ManuGH/mediacore/internal/lock"
	"github.com/ManuGH/mediacore/internal/log"
	"github.com/ManuGH/mediacore/internal/queue"
	"github.com/ManuGH/mediacore/internal/schedule"
	"github.com/ManuGH/mediacore/internal/search"
	"github.com/ManuGH/mediacore/internal/session"
	"github.com/ManuGH/mediacore/internal/telemetry"
	"github.com/ManuGH/mediacore/internal/transcode"
	"github.com/ManuGH/mediacore/internal/version"
	"github.com/rs/zerolog"
)

// Options replaces collaborators that are otherwise built from the config.
type Options struct {
	// Store is used instead of connecting to cfg.Redis. The App does not close it.
	Store coord.Store
	// Transcoder overrides the choice between ffmpeg and the simulated transcoder.
	Transcoder session.Transcoder
	// ScheduleSource overrides the SQLite schedule database.
	ScheduleSource schedule.Source
}

// App is one assembled node.
type App struct {
	cfg    config.Config
	logger zerolog.Logger

	store    coord.Store
	broker   *queue.Broker
	queues   jobs.Queues
	locker   *lock.Locker
	catalog  *library.Catalog
	library  *library.Service
	docs     search.DocumentStore
	index    *search.Index
	images   *jobs.ImageFetcher
	sessions *session.Manager
	sched    *schedule.Coordinator
	server   *api.Server
	tracing  *telemetry.Provider

	closers []func() error
}

// New builds every component. Nothing runs until Run is called; Close
// releases what New opened.
func New(ctx context.Context, cfg config.Config, opts Options) (app *App, err error) {
	a := &App{cfg: cfg, logger: log.WithComponent("daemon").With().Str(log.FieldNode, cfg.NodeID).Logger()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.tracing, err = telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.LogService,
		ServiceVersion: version.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error { return a.tracing.Shutdown(context.Background()) })

	if err := a.openStore(ctx, opts.Store); err != nil {
		return nil, err
	}
	a.broker = queue.NewBroker(a.store, queue.Config{
		WakeInterval: cfg.Queue.WakeInterval,
		ResultTTL:    cfg.Queue.ResultTTL,
	})
	a.queues = jobs.NewQueues(a.broker, cfg.NodeID)
	a.locker = lock.New(a.store, cfg.NodeID, lock.Config{RetryMin: cfg.Lock.RetryMin, RetryMax: cfg.Lock.RetryMax})

	if err := a.openLibrary(ctx); err != nil {
		return nil, err
	}

	a.images, err = jobs.NewImageFetcher(jobs.ImageFetcherConfig{
		CacheDir:     cfg.Images.CacheDir,
		RatePerSec:   cfg.Images.RatePerSec,
		Burst:        cfg.Images.Burst,
		FetchTimeout: cfg.Images.FetchTimeout,
		LocalRoots:   a.library.RootPaths(),
		RemoteHosts:  cfg.Images.RemoteHosts,
	})
	if err != nil {
		return nil, err
	}

	tr := opts.Transcoder
	if tr == nil {
		tr = a.transcoder()
	}
	a.sessions = session.NewManager(a.broker, tr, session.Config{
		NodeID:         cfg.NodeID,
		IdleTimeout:    cfg.Sessions.IdleTimeout,
		Retention:      cfg.Sessions.Retention,
		MaxSessions:    cfg.Sessions.MaxSessions,
		SegmentSeconds: cfg.Sessions.SegmentSeconds,
		SegmentDir:     cfg.Sessions.SegmentDir,
	})

	if cfg.Schedule.Enabled {
		src := opts.ScheduleSource
		switch {
		case src != nil:
		case cfg.Schedule.DBPath == "":
			a.logger.Warn().Str("event", "schedule.no_database").Msg("schedule coordinator runs without a schedule database")
			src = schedule.NewStaticSource()
		default:
			sqlSrc, err := schedule.OpenSQLiteSource(cfg.Schedule.DBPath)
			if err != nil {
				return nil, fmt.Errorf("open schedule database: %w", err)
			}
			a.closers = append(a.closers, sqlSrc.Close)
			src = sqlSrc
		}
		a.sched = schedule.NewCoordinator(a.locker, src, a.queues.Scan, a.queues.Refresh, schedule.Config{
			LeaderTTL:    cfg.Schedule.LeaderTTL,
			RenewEvery:   cfg.Schedule.RenewEvery,
			PollInterval: cfg.Schedule.PollInterval,
			FireLockTTL:  cfg.Schedule.FireLockTTL,
		})
	}

	tracingService := ""
	if cfg.Telemetry.Enabled {
		tracingService = cfg.LogService
	}
	a.server = api.New(api.Config{
		NodeID:          cfg.NodeID,
		Sessions:        a.sessions,
		Queues:          a.queues,
		Artwork:         a.library,
		SubmitTimeout:   cfg.Queue.SubmitTimeout,
		CreateRateLimit: cfg.API.CreateRateLimit,
		RateWindow:      cfg.API.RateWindow,
		TracingService:  tracingService,
		Health:          a.store.Ping,
	})
	return a, nil
}

func (a *App) openStore(ctx context.Context, st coord.Store) error {
	if st != nil {
		a.store = st
		return nil
	}
	rs, err := coord.NewRedisStore(ctx, coord.RedisConfig{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	}, log.WithComponent("coord"))
	if err != nil {
		return fmt.Errorf("connect coordination store: %w", err)
	}
	a.store = rs
	a.closers = append(a.closers, rs.Close)
	return nil
}

func (a *App) openLibrary(ctx context.Context) error {
	catalog, err := library.OpenCatalog(a.cfg.Library.CatalogPath)
	if err != nil {
		return fmt.Errorf("open library catalog: %w", err)
	}
	a.catalog = catalog
	a.closers = append(a.closers, catalog.Close)

	roots := make([]library.RootConfig, 0, len(a.cfg.Library.Roots))
	for _, r := range a.cfg.Library.Roots {
		roots = append(roots, library.RootConfig{ID: r.ID, Path: r.Path, MaxDepth: r.MaxDepth, IncludeExt: r.IncludeExt})
	}
	a.library = library.NewService(roots, catalog)

	if a.cfg.Search.IndexDir == "" {
		a.docs = search.NewMemoryStore()
	} else {
		bs, err := search.OpenBadgerStore(a.cfg.Search.IndexDir)
		if err != nil {
			return fmt.Errorf("open search index: %w", err)
		}
		a.docs = bs
	}
	a.closers = append(a.closers, a.docs.Close)
	a.index = search.NewIndex(a.docs)
	if err := a.index.Rebuild(ctx); err != nil {
		return err
	}
	a.logger.Info().Str("event", "search.rebuilt").Int("documents", a.index.Len()).Msg("search index loaded")
	return nil
}

func (a *App) transcoder() session.Transcoder {
	if a.cfg.Virtual {
		a.logger.Warn().Str("event", "transcode.virtual").Msg("virtual mode: segments are simulated")
		return &transcode.Simulated{Interval: timeFromSeconds(a.cfg.Sessions.SegmentSeconds)}
	}
	return &transcode.FFmpeg{Bin: a.cfg.Sessions.FFmpegBin, Resolver: a.library}
}

// Handler exposes the HTTP surface without listening.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Queues exposes the typed job queues of this node.
func (a *App) Queues() jobs.Queues { return a.queues }

// Run registers the job consumers, starts every long-lived subsystem and
// blocks until ctx is canceled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.register(); err != nil {
		a.broker.Close()
		return err
	}
	defer func() {
		// Transcode consumers only return once their session is canceled.
		a.sessions.Close()
		a.broker.Close()
	}()

	a.logger.Info().
		Str("event", "daemon.started").
		Str("version", version.Version).
		Bool("virtual", a.cfg.Virtual).
		Bool("schedule", a.sched != nil).
		Msg("node started")

	g, ctx := errgroup.WithContext(ctx)

	sweeper := &session.Sweeper{Manager: a.sessions, Interval: a.cfg.Sessions.SweepInterval}
	g.Go(func() error {
		sweeper.Run(ctx)
		return nil
	})

	if a.sched != nil {
		g.Go(func() error { return a.sched.Run(ctx) })
		if a.cfg.Schedule.Watch && a.cfg.Schedule.DBPath != "" {
			w := &schedule.Watcher{Path: a.cfg.Schedule.DBPath, Refresh: a.queues.Refresh}
			g.Go(func() error {
				// A node without a working watcher still runs schedules.
				if err := w.Run(ctx); err != nil {
					a.logger.Warn().Err(err).Str("event", "schedule.watcher_failed").Msg("schedule watcher stopped")
				}
				return nil
			})
		}
	}

	g.Go(func() error { return a.server.Serve(ctx, a.cfg.API.ListenAddr) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.logger.Info().Str("event", "daemon.stopped").Msg("node stopped")
	return err
}

func (a *App) register() error {
	q := a.cfg.Queue
	scans := &jobs.ScanHandler{Library: a.library, Index: a.index, Locker: a.locker}
	if _, err := a.queues.Scan.Register(scans.Handle, q.ConcurrencyFor(jobs.TypeLibraryScan)); err != nil {
		return err
	}
	streams := &jobs.StreamHandler{Sessions: a.sessions, NodeID: a.cfg.NodeID}
	if _, err := a.queues.Stream.Register(streams.Handle, q.ConcurrencyFor(jobs.TypeStreamCreate)); err != nil {
		return err
	}
	if _, err := a.queues.Image.Register(a.images.Handle, q.ConcurrencyFor(jobs.TypeImageFetch)); err != nil {
		return err
	}
	searches := &jobs.SearchHandler{Index: a.index}
	if _, err := a.queues.Search.Register(searches.Handle, q.ConcurrencyFor(jobs.TypeSearchQuery)); err != nil {
		return err
	}
	return a.sessions.Start(max(a.cfg.Sessions.MaxSessions, 1))
}

// Close releases stores and exporters in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func timeFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
