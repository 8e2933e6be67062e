package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"paperbase/internal/app"
	"paperbase/internal/config"
	"paperbase/internal/logging"
	tracing "paperbase/internal/otel"
	"paperbase/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled backfill",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	log := logging.New(cfg.Log)

	shutdownTracing, err := tracing.Init(ctx, log)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	a, err := app.New(ctx, cfg, log, app.Options{InMemory: inMemory})
	if err != nil {
		log.Error().Str("event", "startup_failed").Err(err).Send()
		return err
	}
	defer a.Close()

	sched, err := scheduleBackfill(ctx, log, cfg.Backfill, func(ctx context.Context) error {
		_, err := a.Migrator.Run(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if sched != nil {
		defer sched.Shutdown()
	}

	srv := a.HTTP()
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("event", "server_start").Str("addr", ":"+cfg.Port).Bool("in_memory", inMemory).Send()
		errCh <- srv.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Str("event", "server_shutdown").Send()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// scheduleBackfill starts a scheduler running job on cfg.Cron, and once right away when
// cfg.RunOnStart is set. It returns nil when no cron expression is configured.
func scheduleBackfill(ctx context.Context, log zerolog.Logger, cfg config.BackfillConfig, job func(context.Context) error) (*scheduler.Scheduler, error) {
	if cfg.Cron == "" {
		if cfg.RunOnStart {
			log.Warn().Str("event", "backfill_run_on_start_ignored").Msg("BACKFILL_RUN_ON_START needs BACKFILL_CRON")
		}
		return nil, nil
	}
	sched, err := scheduler.New(log)
	if err != nil {
		return nil, err
	}
	if err := sched.AddCron(ctx, "backfill", cfg.Cron, job); err != nil {
		sched.Shutdown()
		return nil, err
	}
	sched.Start()
	if cfg.RunOnStart {
		if err := sched.RunNow("backfill"); err != nil {
			log.Warn().Str("event", "backfill_run_on_start_failed").Err(err).Send()
		}
	}
	return sched, nil
}
