// Package app assembles the stores, services and HTTP server from configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"paperbase/internal/config"
	"paperbase/internal/database"
	"paperbase/internal/database/migration"
	handlers "paperbase/internal/http/handler"
	"paperbase/internal/http/middleware"
	"paperbase/internal/logging"
	"paperbase/internal/metrics"
	"paperbase/internal/parser"
	"paperbase/internal/repository"
	"paperbase/internal/repository/memory"
	"paperbase/internal/repository/postgres"
	"paperbase/internal/service"
	"paperbase/internal/storage"
)

// Options alter how New builds its dependencies.
type Options struct {
	// InMemory replaces PostgreSQL with the in-process store and object storage with the
	// local backend.
	InMemory bool
	// Parser overrides the HTTP parser client.
	Parser parser.Parser
}

// App holds the wired services of one process.
type App struct {
	Config   *config.AppConfig
	Log      zerolog.Logger
	DB       *sql.DB
	Registry *prometheus.Registry
	Docs     service.DocumentService
	Migrator *service.BackfillMigrator

	httpMetrics *middleware.PrometheusMiddleware
}

// New connects to the configured backends, migrating the schema when needed, and builds
// the services.
func New(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Log: log, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var (
		store   repository.Store
		objects storage.Storage
		err     error
	)
	if opts.InMemory {
		store = memory.NewStore()
		if objects, err = storage.NewLocal(cfg.Storage.LocalRoot); err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
	} else {
		if a.DB, err = database.NewPostgres(ctx, cfg.Database); err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err = migration.EnsureMigrated(ctx, a.DB, log, cfg.Database.Host); err != nil {
			a.DB.Close()
			return nil, err
		}
		store = postgres.NewStore(a.DB)
		if objects, err = storage.New(cfg); err != nil {
			a.DB.Close()
			return nil, fmt.Errorf("init object storage: %w", err)
		}
	}

	p := opts.Parser
	if p == nil {
		client, err := parser.NewHTTPClient(cfg.Parser, nil)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init parser client: %w", err)
		}
		p = client
	}

	m, err := metrics.New(a.Registry)
	if err != nil {
		a.Close()
		return nil, err
	}
	if a.httpMetrics, err = middleware.NewPrometheusMiddleware(a.Registry); err != nil {
		a.Close()
		return nil, err
	}

	files := service.NewPhysicalFileStore(store, objects, logging.Component(log, "physical_files"), cfg.Dedup.ParseStaleAfter)
	coord := service.NewCoordinator(store, files, p, m, logging.Component(log, "dedup"), cfg.Dedup.UploadConcurrency)
	guard := service.NewReorganizationGuard(store, objects, m, logging.Component(log, "reorganize"))
	a.Migrator = service.NewBackfillMigrator(store, files, objects, m, logging.Component(log, "backfill"), cfg.Backfill.BatchSize)
	a.Docs = service.NewDocumentService(store, files, coord, guard, a.Migrator)

	return a, nil
}

// HTTP builds the Fiber application serving the document API and /metrics.
func (a *App) HTTP() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
		BodyLimit:    a.Config.BodyLimitMB * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(otelfiber.Middleware())
	app.Use(middleware.Logger(a.Log))
	app.Use(a.httpMetrics.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})))

	// A nil *sql.DB must stay a nil interface.
	var pinger handlers.Pinger
	if a.DB != nil {
		pinger = a.DB
	}
	handlers.RegisterRoutes(app, pinger, a.Docs)
	return app
}

// Close releases the database pool, if any.
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
