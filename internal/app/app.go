package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/timmy/loadgate/internal/audit"
	"github.com/timmy/loadgate/internal/catalogfile"
	"github.com/timmy/loadgate/internal/config"
	"github.com/timmy/loadgate/internal/domain"
	"github.com/timmy/loadgate/internal/loader"
	"github.com/timmy/loadgate/internal/logger"
	"github.com/timmy/loadgate/internal/metrics"
	"github.com/timmy/loadgate/internal/repository"
	"github.com/timmy/loadgate/internal/service"
	"github.com/timmy/loadgate/internal/source"
	"github.com/timmy/loadgate/internal/source/bucket"
	"github.com/timmy/loadgate/internal/source/landing"
	"github.com/timmy/loadgate/internal/storage"
	"github.com/timmy/loadgate/internal/threshold"
	"github.com/timmy/loadgate/internal/validation"
	"gorm.io/gorm"
)

// Task names registered on the scheduler.
const (
	TaskStaleSweep       = "stale-sweep"
	TaskThresholdCleanup = "threshold-cleanup"
)

// App holds the wired components shared by the API server and the CLI.
type App struct {
	Config *config.Config
	DB     *gorm.DB

	Configs    *repository.ConfigRepository
	Provider   validation.ConfigurationProvider
	Staging    *repository.StagingRepository
	Executions *repository.ExecutionRepository

	Thresholds  *threshold.Manager
	Validator   *validation.FileValidator
	Stager      *service.Stager
	Pool        *service.WorkerPool
	Sweeper     *service.Sweeper
	Scheduler   *service.Scheduler
	LoadService *service.LoadService

	Metrics  *metrics.Collector
	Registry *prometheus.Registry
	Sink     audit.Sink
	Sources  map[string]source.Source

	async *audit.AsyncSink
}

// bucketEnsurer is implemented by storage backends that can create their bucket.
type bucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

// Build wires every component described by cfg. The caller owns the returned
// App and must Close it.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.FromContext(ctx)

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &App{
		Config:     cfg,
		DB:         db,
		Configs:    repository.NewConfigRepository(db),
		Staging:    repository.NewStagingRepository(db, cfg.Staging.InsertBatchSize),
		Executions: repository.NewExecutionRepository(db),
		Registry:   prometheus.NewRegistry(),
		Sources:    make(map[string]source.Source),
	}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.NewCollector(a.Registry)

	a.Provider = a.Configs
	if cfg.Validation.CatalogFile != "" {
		provider, err := catalogfile.Load(cfg.Validation.CatalogFile)
		if err != nil {
			a.closeDB()
			return nil, fmt.Errorf("failed to load catalog file: %w", err)
		}
		a.Provider = provider
		log.WithField(logger.FieldFile, cfg.Validation.CatalogFile).Info("Using catalog file for configurations and rules")
	}

	a.Sink = a.buildSink()
	a.Thresholds = threshold.NewManager(threshold.Options{
		WarningRatio: cfg.Threshold.WarningRatio,
		Sink:         a.Sink,
	})
	a.Validator = a.buildValidator()

	a.Stager = service.NewStager(a.Staging, cfg.Staging.InsertBatchSize, a.Metrics)
	a.Sweeper = service.NewSweeper(a.Staging, cfg.Staging.MaxProcessing, a.Sink, a.Metrics)

	invoker, err := a.buildInvoker()
	if err != nil {
		log.WithError(err).Warn("Loader not configured, runs will stop after staging")
	} else {
		a.Pool = service.NewWorkerPool(a.Staging, invoker, service.PoolConfig{
			Workers:    cfg.Staging.Workers,
			PageSize:   cfg.Staging.PageSize,
			MaxRetries: cfg.Retry.MaxRetries,
			Policy:     retryPolicy(&cfg.Retry),
		}, a.Sink, a.Metrics)
	}

	a.LoadService = service.NewLoadService(service.LoadDeps{
		Provider:   a.Provider,
		Validator:  a.Validator,
		Thresholds: a.Thresholds,
		Stager:     a.Stager,
		Pool:       a.Pool,
		Executions: a.Executions,
		Sink:       a.Sink,
		Metrics:    a.Metrics,
		Logger:     log,
	}, service.RunConfig{
		StopOnMaxErrors: cfg.Validation.StopOnMaxErrors,
		FileWorkers:     cfg.Staging.Workers,
	})

	if err := a.buildSources(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.Scheduler = service.NewScheduler()
	if cfg.Scheduler.Enabled {
		if err := a.registerTasks(); err != nil {
			a.Close(ctx)
			return nil, err
		}
	}

	return a, nil
}

func (a *App) buildSink() audit.Sink {
	var sinks []audit.Sink
	if a.Config.Audit.Log {
		sinks = append(sinks, audit.LogSink{})
	}
	if url := a.Config.Audit.WebhookURL; url != "" {
		a.async = audit.NewAsyncSink(audit.NewWebhookSink(audit.WebhookConfig{
			URL:     url,
			Token:   a.Config.Audit.WebhookToken,
			Timeout: a.Config.Audit.Timeout,
		}), a.Config.Audit.BufferSize)
		sinks = append(sinks, a.async)
	}
	return audit.Multi(sinks...)
}

func (a *App) buildValidator() *validation.FileValidator {
	v := a.Config.Validation
	lookup := repository.NewLookupChecker(a.DB)

	opts := validation.Options{
		MaxSamples:        v.MaxSamples,
		DetectDuplicates:  v.DetectDuplicates,
		DuplicateSeverity: domain.Severity(strings.ToUpper(v.DuplicateSeverity)),
		TrackInvalid:      true,
	}
	if v.BatchReferences {
		opts.BatchReferences = lookup
	}

	records := validation.NewRecordValidator(validation.NewFieldValidator(lookup.Checkers()))
	return validation.NewFileValidator(a.Provider, records, opts)
}

func (a *App) buildInvoker() (loader.Invoker, error) {
	lc := a.Config.Loader
	if err := lc.Validate(); err != nil {
		return nil, err
	}
	var invoker loader.Invoker = loader.NewExecInvoker(loader.ExecConfig{
		Binary:    lc.Binary,
		Args:      lc.Args,
		WorkDir:   lc.WorkDir,
		Timeout:   lc.Timeout,
		KeepFiles: lc.KeepFiles,
		Env:       lc.Env,
	})
	if lc.Breaker.Enabled {
		invoker = loader.NewBreakerInvoker(invoker, loader.BreakerConfig{
			MaxRequests:      lc.Breaker.MaxRequests,
			Interval:         lc.Breaker.Interval,
			Timeout:          lc.Breaker.Timeout,
			FailureThreshold: lc.Breaker.FailureThreshold,
		})
	}
	return invoker, nil
}

// retryPolicy starts from the built-in classification and replaces the parts
// the configuration sets.
func retryPolicy(rc *config.RetryConfig) loader.RetryPolicy {
	p := loader.DefaultRetryPolicy()
	if len(rc.NonRetryable) > 0 {
		p.NonRetryable = rc.NonRetryable
	}
	if len(rc.Retryable) > 0 {
		p.Retryable = rc.Retryable
	}
	if rc.ErrorRateCutoff > 0 {
		p.ErrorRateCutoff = rc.ErrorRateCutoff
	}
	return p
}

func (a *App) buildSources(ctx context.Context) error {
	if dir := a.Config.Landing.Dir; dir != "" {
		a.Sources["landing"] = landing.NewAdapter(dir, a.Config.Landing.Manifest, a.Config.Landing.Cursor)
	}

	sc := a.Config.Storage
	if !sc.Enabled {
		return nil
	}
	store, err := storage.NewStorage(storage.S3ConfigFrom(&sc))
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if e, ok := store.(bucketEnsurer); ok {
		if err := e.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure storage bucket: %w", err)
		}
	}
	a.Sources["bucket"] = bucket.NewAdapter(storage.NewInbound(store, sc.InboundPrefix, sc.ArchivePrefix, sc.DownloadDir))
	return nil
}

func (a *App) registerTasks() error {
	sc := a.Config.Scheduler
	err := a.Scheduler.AddTask(TaskStaleSweep, sc.SweepSpec, func(ctx context.Context) error {
		_, err := a.Sweeper.Sweep(ctx)
		return err
	})
	if err != nil {
		return err
	}

	retention := a.Config.Threshold.Retention
	return a.Scheduler.AddTask(TaskThresholdCleanup, sc.CleanupSpec, func(ctx context.Context) error {
		a.Thresholds.CleanupOldTrackers(ctx, retention)
		return nil
	})
}

// Close flushes pending audit events and releases the database.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.async != nil {
		if err := a.async.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush audit events: %w", err))
		}
		a.async = nil
	}
	if err := a.closeDB(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeDB() error {
	if a.DB == nil {
		return nil
	}
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	a.DB = nil
	return sqlDB.Close()
}
