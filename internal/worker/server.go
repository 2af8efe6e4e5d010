// Package worker wires configuration into a running process: store, lane
// queues, provider, handlers, scheduler and HTTP surface.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"reportq/internal/analysis"
	"reportq/internal/api"
	"reportq/internal/config"
	"reportq/internal/domain"
	"reportq/internal/export"
	"reportq/internal/infra/badgerstore"
	"reportq/internal/infra/memq"
	"reportq/internal/infra/memstore"
	"reportq/internal/infra/redisq"
	"reportq/internal/pipeline"
	"reportq/internal/ports"
	"reportq/internal/provider"
	"reportq/internal/quality"
	"reportq/internal/templates"
	"reportq/internal/usecase"
	"reportq/pkg/backoff"
)

type Config struct {
	Port              int
	ReportConcurrency int
	FileConcurrency   int
}

// App is a fully wired process.
type App struct {
	Scheduler  *usecase.Scheduler
	Server     *api.Server
	schedulers []ports.Scheduler
	closers    []io.Closer
}

// SetupLogger applies the configured level and output format.
func SetupLogger(cfg config.Log) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// Build creates every component named by cfg.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{}

	gen, err := provider.FromConfig(ctx, cfg.Provider)
	if err != nil {
		return nil, err
	}
	catalog, err := templates.New(cfg.Templates.Dir)
	if err != nil {
		return nil, err
	}
	renderer, err := export.New(cfg.Export.Dir)
	if err != nil {
		return nil, err
	}

	store, reportQ, fileQ, err := app.storage(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	engine := quality.NewEngine(gen,
		quality.WithThreshold(cfg.Quality.Threshold),
		quality.WithMaxImprovements(cfg.Quality.MaxImprovements),
	)
	lanes := []usecase.Lane{
		{
			Kind:        domain.KindReportGeneration,
			Concurrency: cfg.Lanes.ReportConcurrency,
			MaxAttempts: cfg.Lanes.ReportMaxAttempts,
			Backoff:     backoff.Exponential{Base: cfg.Lanes.ReportBaseBackoff, Max: cfg.Lanes.ReportMaxBackoff},
			Queue:       reportQ,
			Handler:     pipeline.New(gen, catalog, renderer, pipeline.WithQuality(engine)),
			Validate:    pipeline.ValidateInput,
			ClaimBlock:  cfg.Lanes.ClaimBlock,
		},
		{
			Kind:        domain.KindFileAnalysis,
			Concurrency: cfg.Lanes.FileConcurrency,
			MaxAttempts: cfg.Lanes.FileMaxAttempts,
			Backoff:     backoff.Fixed(cfg.Lanes.FileRetryDelay),
			Queue:       fileQ,
			Handler:     analysis.New(gen),
			Validate:    analysis.ValidateInput,
			ClaimBlock:  cfg.Lanes.ClaimBlock,
		},
	}
	sched, err := usecase.NewScheduler(store, lanes, usecase.WithHistory(cfg.Store.HeartbeatKeep))
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Scheduler = sched
	app.Server = api.NewServer(sched, catalog)
	return app, nil
}

// storage picks the task store and lane queues for the configured driver.
// The redis driver keeps both in redis so that several processes can share
// the lanes; the others queue in process.
func (a *App) storage(ctx context.Context, cfg *config.Config) (ports.TaskStore, ports.LaneQueue, ports.LaneQueue, error) {
	switch cfg.Store.Driver {
	case "redis":
		cli := redisq.New(cfg.Redis)
		a.closers = append(a.closers, cli)
		if err := cli.Connect(ctx); err != nil {
			return nil, nil, nil, err
		}
		reportQ := redisq.NewQueue(cli, domain.KindReportGeneration)
		fileQ := redisq.NewQueue(cli, domain.KindFileAnalysis)
		a.schedulers = append(a.schedulers, redisq.NewScheduler(cfg.Lanes.SchedulerInterval, reportQ, fileQ))
		return redisq.NewStore(cli, cfg.Store.HeartbeatKeep), reportQ, fileQ, nil

	case "badger", "memory", "":
		var store ports.TaskStore = memstore.New(cfg.Store.HeartbeatKeep)
		if cfg.Store.Driver == "badger" {
			bs, err := badgerstore.Open(cfg.Store.BadgerPath, cfg.Store.HeartbeatKeep)
			if err != nil {
				return nil, nil, nil, err
			}
			a.closers = append(a.closers, bs)
			store = bs
		}
		reportQ, fileQ := memq.New(), memq.New()
		a.schedulers = append(a.schedulers,
			memq.NewScheduler(reportQ, cfg.Lanes.SchedulerInterval),
			memq.NewScheduler(fileQ, cfg.Lanes.SchedulerInterval),
		)
		return store, reportQ, fileQ, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// Run starts the delayed-task schedulers, the lane workers and, when port is
// positive, the HTTP server. It returns when ctx is done or one of them fails.
func (a *App) Run(ctx context.Context, port int) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range a.schedulers {
		g.Go(func() error { return ignoreCancel(s.Run(ctx)) })
	}
	g.Go(func() error { return a.Scheduler.Run(ctx) })
	if port > 0 {
		g.Go(func() error { return a.Server.Run(ctx, port) })
	}
	return g.Wait()
}

func (a *App) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Serve loads configuration, builds the app and runs it until SIGINT or
// SIGTERM.
func Serve(cfg Config) error {
	appCfg := config.Load()
	SetupLogger(appCfg.Log)
	if cfg.ReportConcurrency > 0 {
		appCfg.Lanes.ReportConcurrency = cfg.ReportConcurrency
	}
	if cfg.FileConcurrency > 0 {
		appCfg.Lanes.FileConcurrency = cfg.FileConcurrency
	}
	port := appCfg.HTTP.Port
	if cfg.Port > 0 {
		port = cfg.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.WithContext(ctx)

	app, err := Build(ctx, appCfg)
	if err != nil {
		return err
	}
	defer app.Close()

	log.Info().
		Str("store", appCfg.Store.Driver).
		Int("report_concurrency", appCfg.Lanes.ReportConcurrency).
		Int("file_concurrency", appCfg.Lanes.FileConcurrency).
		Msg("reportq starting")
	return app.Run(ctx, port)
}
