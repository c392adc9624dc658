// Package config loads process configuration from the environment using
// the struct-tag loader, grounded on the env-tag configuration
// layer used elsewhere in this module. Durations are Go duration strings (e.g. "5s"), matching the
// loader's supported field types.
package config

import (
	"fmt"
	"time"

	"github.com/noctua-labs/jobqueue/internal/env"
)

// Database holds PostgreSQL connection settings.
type Database struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS"`
	MinOpenConns    int           `env:"DATABASE_MIN_OPEN_CONNS"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `env:"DATABASE_CONN_MAX_IDLE_TIME"`
}

func (d Database) Validate() error {
	if d.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// Broker holds Redis connection and stream-naming settings.
type Broker struct {
	URL            string `env:"REDIS_URL"`
	ReadyName      string `env:"QUEUE_NAME"`
	RetryName      string `env:"RETRY_QUEUE_NAME"`
	DeadLetterName string `env:"DLQ_NAME"`
}

func (b Broker) Validate() error {
	if b.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	return nil
}

// Worker holds Worker Dispatcher / Retry Scheduler tuning.
type Worker struct {
	MaxConcurrency   int           `env:"MAX_CONCURRENCY"`
	QueuePollTimeout time.Duration `env:"QUEUE_POLL_TIMEOUT"`
	RetryPollInterval time.Duration `env:"RETRY_POLL_INTERVAL"`
	RetryBatchCap    int           `env:"RETRY_BATCH_CAP"`
}

// HTTP holds the producer-facing HTTP server's settings.
type HTTP struct {
	Host              string        `env:"HTTP_HOST"`
	Port              int           `env:"HTTP_PORT"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT"`
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT"`
	MaxHeaderBytes    int           `env:"HTTP_MAX_HEADER_BYTES"`
	MaxBodyBytes      int64         `env:"HTTP_MAX_BODY_BYTES"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT"`
}

// RateLimit holds the producer-side rate limiter's settings.
type RateLimit struct {
	MaxRequests   int `env:"RATE_LIMIT_MAX"`
	WindowSeconds int `env:"RATE_LIMIT_WINDOW_SECONDS"`
}

// Observability holds OpenTelemetry settings.
type Observability struct {
	Enabled     bool   `env:"OTEL_ENABLED"`
	ServiceName string `env:"OTEL_SERVICE_NAME"`
}

// ServerConfig is the full configuration for the HTTP intake binary.
type ServerConfig struct {
	Database      Database
	Broker        Broker
	HTTP          HTTP
	RateLimit     RateLimit
	Observability Observability
}

// WorkerConfig is the full configuration for the worker binary.
type WorkerConfig struct {
	Database      Database
	Broker        Broker
	Worker        Worker
	Observability Observability
}

// LoadServer loads and defaults a ServerConfig from the environment.
func LoadServer() (*ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Load(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadWorker loads and defaults a WorkerConfig from the environment.
func LoadWorker() (*WorkerConfig, error) {
	var cfg WorkerConfig
	if err := env.Load(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *ServerConfig) applyDefaults() {
	if c.HTTP.Host == "" {
		c.HTTP.Host = "0.0.0.0"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 5 * time.Second
	}
	if c.HTTP.ReadHeaderTimeout == 0 {
		c.HTTP.ReadHeaderTimeout = 5 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 10 * time.Second
	}
	if c.HTTP.IdleTimeout == 0 {
		c.HTTP.IdleTimeout = 60 * time.Second
	}
	if c.HTTP.MaxHeaderBytes == 0 {
		c.HTTP.MaxHeaderBytes = 1 << 20
	}
	if c.HTTP.MaxBodyBytes == 0 {
		c.HTTP.MaxBodyBytes = 1 << 20
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = 60
	}
	if c.RateLimit.WindowSeconds == 0 {
		c.RateLimit.WindowSeconds = 60
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "jobqueue-server"
	}
}

func (c *WorkerConfig) applyDefaults() {
	if c.Worker.MaxConcurrency == 0 {
		c.Worker.MaxConcurrency = 5
	}
	if c.Worker.QueuePollTimeout == 0 {
		c.Worker.QueuePollTimeout = time.Second
	}
	if c.Worker.RetryPollInterval == 0 {
		c.Worker.RetryPollInterval = time.Second
	}
	if c.Worker.RetryBatchCap == 0 {
		c.Worker.RetryBatchCap = 10
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "jobqueue-worker"
	}
}
