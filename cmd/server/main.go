// Command server runs the producer-facing HTTP intake surface:
// job submission, lookup, dead-letter review, and graceful shutdown on
// SIGTERM/SIGINT.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/noctua-labs/jobqueue/internal/broker"
	"github.com/noctua-labs/jobqueue/internal/config"
	"github.com/noctua-labs/jobqueue/internal/httpapi"
	"github.com/noctua-labs/jobqueue/internal/jobstore/postgres"
	"github.com/noctua-labs/jobqueue/internal/observability"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServer()
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

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Store:                  store,
		Broker:                 b,
		RedisClient:            b.Client(),
		MaxBodyBytes:           cfg.HTTP.MaxBodyBytes,
		RateLimitMax:           cfg.RateLimit.MaxRequests,
		RateLimitWindowSeconds: cfg.RateLimit.WindowSeconds,
	})

	srv := httpapi.NewServer(router, httpapi.ServerConfig{
		Host:              cfg.HTTP.Host,
		Port:              cfg.HTTP.Port,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		MaxHeaderBytes:    cfg.HTTP.MaxHeaderBytes,
		MaxBodyBytes:      cfg.HTTP.MaxBodyBytes,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("server shut down cleanly")
	return nil
}
