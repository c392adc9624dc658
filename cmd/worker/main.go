// Command worker runs the Worker Dispatcher and Retry Scheduler concurrently
// against the Job Store and Streams broker, with signal-driven graceful
// shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/noctua-labs/jobqueue/internal/broker"
	"github.com/noctua-labs/jobqueue/internal/config"
	"github.com/noctua-labs/jobqueue/internal/dispatcher"
	"github.com/noctua-labs/jobqueue/internal/handlers"
	"github.com/noctua-labs/jobqueue/internal/jobstore/postgres"
	"github.com/noctua-labs/jobqueue/internal/observability"
	"github.com/noctua-labs/jobqueue/internal/registry"
	"github.com/noctua-labs/jobqueue/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWorker()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	_, logger, err := observability.InitLogger(ctx, observability.Config{
		Enabled:     cfg.Observability.Enabled,
		ServiceName: cfg.Observability.ServiceName,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if _, err := observability.InitTracerProvider(ctx, observability.Config{
		Enabled:     cfg.Observability.Enabled,
		ServiceName: cfg.Observability.ServiceName,
	}); err != nil {
		return err
	}
	if _, err := observability.InitMeterProvider(ctx, observability.Config{
		Enabled:     cfg.Observability.Enabled,
		ServiceName: cfg.Observability.ServiceName,
	}); err != nil {
		return err
	}

	store, err := postgres.NewStore(ctx, postgres.Config{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MinOpenConns:    cfg.Database.MinOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	b, err := broker.New(ctx, broker.Config{
		URL:            cfg.Broker.URL,
		ReadyName:      cfg.Broker.ReadyName,
		RetryName:      cfg.Broker.RetryName,
		DeadLetterName: cfg.Broker.DeadLetterName,
	})
	if err != nil {
		return err
	}
	defer b.Close()

	reg := handlers.Register(registry.NewBuilder()).Build()

	d := dispatcher.New(store, b, reg, dispatcher.Config{
		MaxConcurrency:   cfg.Worker.MaxConcurrency,
		QueuePollTimeout: cfg.Worker.QueuePollTimeout,
	})
	sch := scheduler.New(b, scheduler.Config{
		PollInterval: cfg.Worker.RetryPollInterval,
		BatchCap:     cfg.Worker.RetryBatchCap,
	})

	runDone := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(runDone)
	}()
	go sch.Run(ctx)

	slog.Info("worker started", "max_concurrency", cfg.Worker.MaxConcurrency)

	<-ctx.Done()
	slog.Info("shutdown signal received, draining in-flight jobs")
	<-runDone
	d.Wait()
	slog.Info("worker shut down cleanly")

	return nil
}
