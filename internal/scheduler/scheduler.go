// Package scheduler implements the Retry Scheduler: a periodic task that
// atomically promotes due retry entries back onto the ready stream.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/noctua-labs/jobqueue/internal/broker"
)

// Config tunes the scheduler's poll interval and promotion batch size.
type Config struct {
	PollInterval time.Duration
	BatchCap     int
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchCap <= 0 {
		c.BatchCap = 10
	}
}

// Scheduler periodically moves due retries from the retry set to the ready
// stream.
type Scheduler struct {
	broker *broker.Broker
	cfg    Config
}

// New builds a Scheduler. Call Run in its own goroutine.
func New(b *broker.Broker, cfg Config) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{broker: b, cfg: cfg}
}

// Run blocks, promoting due retries every PollInterval, until ctx is
// canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.broker.PromoteDue(ctx, time.Now(), s.cfg.BatchCap)
			if err != nil {
				slog.ErrorContext(ctx, "scheduler: promote due retries failed", "error", err)
				continue
			}
			if count > 0 {
				slog.InfoContext(ctx, "scheduler: promoted due retries", "count", count)
			}
		}
	}
}
