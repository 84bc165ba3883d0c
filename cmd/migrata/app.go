package main

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/fx"

	"github.com/kurobane/migrata/example/healthcare"
	"github.com/kurobane/migrata/pkg/etl/adapter/storage"
	"github.com/kurobane/migrata/pkg/etl/adapter/store"
	"github.com/kurobane/migrata/pkg/etl/adapter/store/gormstore"
	"github.com/kurobane/migrata/pkg/etl/core/config"
	coremetrics "github.com/kurobane/migrata/pkg/etl/core/metrics"
	"github.com/kurobane/migrata/pkg/etl/export"
	inframetrics "github.com/kurobane/migrata/pkg/etl/infrastructure/metrics"
	"github.com/kurobane/migrata/pkg/etl/infrastructure/repository/outcome"
	"github.com/kurobane/migrata/pkg/etl/session"
	"github.com/kurobane/migrata/pkg/etl/snapshot"
	"github.com/kurobane/migrata/pkg/etl/transformer"
	logger "github.com/kurobane/migrata/pkg/etl/support/logger"
)

// cliOptions carries the parsed command line into the Fx container.
type cliOptions struct {
	only           []string
	dryRun         bool
	enableRollback bool
	rollbackSet    bool
	batchSize      int
	logLevel       string
	logFile        string
}

// sessionRequest is the fully resolved session invocation: the transformer
// selection plus the per-run options merged from configuration and flags.
type sessionRequest struct {
	Only []string
	Opts transformer.Options
}

// exitStatus carries the session exit code out of the Fx container.
type exitStatus struct {
	code int
}

// newSessionRequest merges configuration defaults with CLI overrides. The
// rollback flag only overrides the configured value when it was given
// explicitly.
func newSessionRequest(cfg *config.Config, cli cliOptions) *sessionRequest {
	opts := transformer.Options{
		DryRun:         cli.dryRun || cfg.Migrata.Transformation.DryRun,
		EnableRollback: cfg.Migrata.Snapshot.EnableRollback,
		BatchSize:      cli.batchSize,
	}
	if cli.rollbackSet {
		opts.EnableRollback = cli.enableRollback
	}
	return &sessionRequest{Only: cli.only, Opts: opts}
}

// storesOut provides the named source and target stores.
type storesOut struct {
	fx.Out
	Source store.Store `name:"sourceStore"`
	Target store.Store `name:"targetStore"`
}

// newStores opens the "legacy" and "target" database connections. A
// connection missing from the configuration falls back to an in-memory store
// so the example transformers can run without any database.
func newStores(cfg *config.Config, provider *gormstore.Provider) (storesOut, error) {
	source, err := openStore(cfg, provider, "legacy")
	if err != nil {
		return storesOut{}, err
	}
	target, err := openStore(cfg, provider, "target")
	if err != nil {
		return storesOut{}, err
	}
	return storesOut{Source: source, Target: target}, nil
}

func openStore(cfg *config.Config, provider *gormstore.Provider, name string) (store.Store, error) {
	if _, ok := cfg.Migrata.AdaptorConfigs[name]; !ok {
		logger.Warnf("No '%s' database configured; using an in-memory store.", name)
		return store.NewMemoryStore(name), nil
	}
	return provider.GetStore(name)
}

// newSnapshotManager resolves the snapshot storage backend. It returns nil
// when snapshots are disabled or unconfigured; the lifecycle then runs
// without rollback protection.
func newSnapshotManager(ctx context.Context, cfg *config.Config, resolver *storage.Resolver, target store.Store) (*snapshot.Manager, error) {
	snapCfg := cfg.Migrata.Snapshot
	if !snapCfg.Enabled || snapCfg.StorageRef == "" {
		logger.Infof("Snapshots disabled; failed runs will not be rolled back.")
		return nil, nil
	}
	backend, err := resolver.Resolve(ctx, snapCfg.StorageRef)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve snapshot storage '%s': %w", snapCfg.StorageRef, err)
	}
	// An empty bucket uses the backend default (GCS) or the base directory
	// itself (local).
	return snapshot.NewManager(target, backend, ""), nil
}

func newLifecycle(cfg *config.Config, source, target store.Store, snapshots *snapshot.Manager) *transformer.Lifecycle {
	return transformer.NewLifecycle(cfg.Migrata.Transformation, cfg.Migrata.Snapshot, source, target, snapshots)
}

func newRegistry() (*transformer.Registry, error) {
	reg := transformer.NewRegistry()
	if err := healthcare.RegisterAll(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// newOutcomeRepository opens the outcome database and migrates its schema.
// Persistence is optional; without an outcome.db_ref the session runs with
// outcomes disabled.
func newOutcomeRepository(cfg *config.Config, provider *gormstore.Provider) (outcome.Repository, error) {
	ref := cfg.Migrata.Outcome.DBRef
	if ref == "" {
		logger.Infof("Outcome persistence disabled (no outcome.db_ref configured).")
		return nil, nil
	}
	s, err := provider.GetStore(ref)
	if err != nil {
		return nil, err
	}
	gs, ok := s.(*gormstore.GormStore)
	if !ok {
		return nil, fmt.Errorf("outcome db_ref '%s' does not resolve to a database store", ref)
	}
	dbCfg, err := provider.DatabaseConfigFor(ref)
	if err != nil {
		return nil, err
	}
	if err := outcome.Migrate(gs.DB(), dbCfg.Type); err != nil {
		return nil, fmt.Errorf("failed to migrate outcome schema: %w", err)
	}
	return outcome.NewGormRepository(gs.DB()), nil
}

func newOrchestrator(reg *transformer.Registry, lc *transformer.Lifecycle, outcomes outcome.Repository, recorder coremetrics.Recorder, tracer coremetrics.Tracer, cfg *config.Config) *session.Orchestrator {
	return session.NewOrchestrator(reg, lc, outcomes, recorder, tracer, cfg.Migrata.Transformation.BatchSize)
}

// applyLogOverrides applies the CLI log level on top of the configured one
// and opens the configured log file when no --log-file flag was given.
func applyLogOverrides(cfg *config.Config, cli cliOptions) error {
	if cli.logLevel != "" {
		logger.SetLogLevel(cli.logLevel)
	}
	if cli.logFile == "" && cfg.Migrata.System.Logging.File != "" {
		return logger.SetLogFile(cfg.Migrata.System.Logging.File)
	}
	return nil
}

// runApplication assembles and runs the Fx application and returns the
// process exit code.
func runApplication(ctx context.Context, envFilePath string, embedded config.EmbeddedConfig, cli cliOptions) int {
	if cli.logFile != "" {
		if err := logger.SetLogFile(cli.logFile); err != nil {
			logger.Fatalf("Failed to open log file: %v", err)
		}
	}
	defer logger.Close()

	exit := &exitStatus{code: 1}
	app := fx.New(
		fx.Supply(
			embedded,
			cli,
			exit,
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
			fx.Annotate(ctx, fx.As(new(context.Context)), fx.ResultTags(`name:"appCtx"`)),
		),

		config.Module,
		gormstore.Module,
		storage.Module,
		inframetrics.Module,

		fx.Provide(newSessionRequest),
		fx.Provide(newRegistry),
		fx.Provide(newStores),
		fx.Provide(fx.Annotate(newSnapshotManager, fx.ParamTags(`name:"appCtx"`, "", "", `name:"targetStore"`))),
		fx.Provide(fx.Annotate(newLifecycle, fx.ParamTags("", `name:"sourceStore"`, `name:"targetStore"`))),
		fx.Provide(newOutcomeRepository),
		fx.Provide(newOrchestrator),

		fx.Invoke(applyLogOverrides),
		fx.Invoke(fx.Annotate(startSession, fx.ParamTags(`name:"appCtx"`))),
	)

	app.Run()

	if err := app.Err(); err != nil {
		logger.Errorf("Application failed: %v", err)
		return 1
	}
	return exit.code
}

// startSession runs the migration session in a background goroutine once the
// container is up and requests shutdown when it finishes. The metrics server
// and the tracer are torn down on stop.
func startSession(
	appCtx context.Context,
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	orch *session.Orchestrator,
	req *sessionRequest,
	cfg *config.Config,
	prom *inframetrics.PrometheusRecorder,
	tracer coremetrics.Tracer,
	exit *exitStatus,
	provider *gormstore.Provider,
	resolver *storage.Resolver,
) {
	var metricsSrv *http.Server

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			metricsSrv = inframetrics.StartMetricsServer(cfg.Migrata.Metrics, prom)

			go func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Errorf("Panic recovered during migration session: %v", r)
						exit.code = 1
					}
					if err := shutdowner.Shutdown(); err != nil {
						logger.Errorf("Failed to shut down application: %v", err)
					}
				}()

				summary, err := orch.Run(appCtx, req.Only, req.Opts)
				if err != nil {
					logger.Errorf("Migration session failed: %v", err)
					exit.code = 1
					return
				}
				logRunProfiles(summary)
				exportReport(cfg, summary)
				exit.code = summary.ExitCode()
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			inframetrics.StopMetricsServer(ctx, metricsSrv)
			if err := tracer.Shutdown(ctx); err != nil {
				logger.Warnf("Failed to shut down tracer: %v", err)
			}
			if err := resolver.CloseAll(); err != nil {
				logger.Warnf("Failed to close storage backends: %v", err)
			}
			if err := provider.CloseAll(); err != nil {
				logger.Warnf("Failed to close database connections: %v", err)
			}
			return nil
		},
	})
}

// logRunProfiles prints each run's performance summary and recommendations.
func logRunProfiles(summary *session.Summary) {
	for _, report := range summary.Reports {
		if report.Result == nil || report.Result.Profile == nil {
			continue
		}
		logger.Infof("Performance of '%s':\n%s", report.TransformerName, report.Result.Profile.Summary())
	}
}

// exportReport writes the Parquet session report when a report directory is
// configured.
func exportReport(cfg *config.Config, summary *session.Summary) {
	dir := cfg.Migrata.Outcome.ReportDir
	if dir == "" {
		return
	}
	path, err := export.NewReporter(dir, "").Export(summary)
	if err != nil {
		logger.Warnf("Failed to export session report: %v", err)
		return
	}
	if path != "" {
		logger.Infof("Session report written to %s.", path)
	}
}
