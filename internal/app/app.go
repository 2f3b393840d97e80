// Package app wires the control database, the reference schema and the
// engine for the server and the CLI.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"tenant_schema_guard/internal/config"
	"tenant_schema_guard/internal/db"
	"tenant_schema_guard/internal/engine"
	"tenant_schema_guard/internal/history"
	"tenant_schema_guard/internal/metrics"
	"tenant_schema_guard/internal/migrate"
	"tenant_schema_guard/internal/reference"
	"tenant_schema_guard/internal/store"
	"tenant_schema_guard/internal/telemetry"
)

const serviceName = "driftguard"

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Store   *store.Store
	Engine  *engine.Service
	Metrics *metrics.Collector

	shutdownTracing func(context.Context) error
}

// Options tune process-specific parts of the wiring.
type Options struct {
	// TraceWriter receives exported spans; nil means stdout.
	TraceWriter io.Writer
	// SkipMigrations leaves the control schema untouched.
	SkipMigrations bool
}

// Open connects to the control database, applies its migrations, loads the
// reference schema and builds the engine.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*App, error) {
	shutdown, err := telemetry.Init(telemetry.Config{
		Enabled:     cfg.Telemetry,
		ServiceName: serviceName,
		Version:     cfg.Reference.Version,
		Writer:      opts.TraceWriter,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	pool, err := store.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, Pool: pool, shutdownTracing: shutdown}

	if !opts.SkipMigrations {
		applied, err := migrate.New(pool, logger).Up(ctx)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("control migrations: %w", err)
		}
		if applied > 0 {
			logger.Info("control schema migrated", "applied", applied)
		}
	}

	ref, err := reference.LoadFile(cfg.Reference.SchemaPath, cfg.Reference.Version, cfg.Reference.CuratedPath)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	logger.Info("reference loaded",
		"version", ref.Version,
		"hash", ref.Hash,
		"skipped", len(ref.Skipped),
	)

	a.Store = store.New(pool, cfg.SecretKeyBytes)
	a.Metrics = metrics.New()
	a.Engine, err = engine.New(engine.Options{
		Reference: ref,
		Tenants:   a.Store,
		Plans:     a.Store,
		Connector: db.PGConnector{Logger: logger, MaxElapsed: cfg.ConnectTimeout},
		History:   history.NewRecorder(history.NewPGStore(pool), logger),
		Metrics:   a.Metrics,
		Logger:    logger,
	})
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// Close releases the pool and flushes pending spans.
func (a *App) Close(ctx context.Context) {
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			a.Logger.Error("telemetry shutdown failed", "error", err)
		}
	}
}
