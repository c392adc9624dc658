// Package dispatcher implements the Worker Dispatcher: a concurrent loop
// that pops ready job ids, claims and executes them against the Handler
// Registry, and records the outcome.
//
// A semaphore bounds the pool of in-flight jobs. The main loop blocks on a
// pop with a poll timeout, and shutdown drains in-flight work via a
// sync.WaitGroup rather than abandoning it mid-handler.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/noctua-labs/jobqueue/internal/broker"
	"github.com/noctua-labs/jobqueue/internal/job"
	"github.com/noctua-labs/jobqueue/internal/registry"
)

// Config tunes the dispatcher's concurrency and polling behavior.
type Config struct {
	MaxConcurrency  int
	QueuePollTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 5
	}
	if c.QueuePollTimeout <= 0 {
		c.QueuePollTimeout = time.Second
	}
}

// Dispatcher pops ready jobs and executes them against the registry,
// bounding the number of jobs in flight with a buffered-channel semaphore.
type Dispatcher struct {
	store    job.Store
	broker   *broker.Broker
	registry *registry.Registry
	cfg      Config

	sem chan struct{}
	wg  sync.WaitGroup
}

// New builds a Dispatcher. Call Run in its own goroutine and Wait to drain
// in-flight jobs during shutdown.
func New(store job.Store, b *broker.Broker, reg *registry.Registry, cfg Config) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		store:    store,
		broker:   b,
		registry: reg,
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.MaxConcurrency),
	}
}

// Run blocks, popping ready job ids and dispatching them, until ctx is
// canceled. It does not wait for in-flight jobs to finish — call Wait for
// that after Run returns.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Take a concurrency slot before popping, so an id leaves the ready
		// stream only when it can start at once and shutdown never strands
		// a popped id.
		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		id, ok, err := d.broker.ReadyPop(ctx, d.cfg.QueuePollTimeout)
		if err != nil {
			<-d.sem
			if ctx.Err() != nil {
				return
			}
			slog.ErrorContext(ctx, "dispatcher: ready pop failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if !ok {
			<-d.sem
			continue
		}

		d.wg.Add(1)
		go func(id string) {
			defer d.wg.Done()
			defer func() { <-d.sem }()
			// Handler panics are turned into failures inside process. A panic
			// elsewhere (store or broker code) must not take down the
			// dispatcher; such a job can be left claimed as a stuck
			// "processing" row for an operator to investigate (no reaper is
			// implemented).
			defer func() {
				if r := recover(); r != nil {
					slog.Error("dispatcher: handler panicked", "job_id", id, "panic", r)
				}
			}()
			d.process(context.Background(), id)
		}(id)
	}
}

// Wait blocks until all in-flight jobs started by Run have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// process implements Phase A (claim), Phase B (execute), and Phase C
// (record outcome) for a single job id.
func (d *Dispatcher) process(ctx context.Context, id string) {
	j, err := d.store.Claim(ctx, id)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) || errors.Is(err, job.ErrStaleStatus) {
			// Another worker claimed it first, or it was since resolved;
			// not an error condition for this worker.
			return
		}
		slog.ErrorContext(ctx, "dispatcher: claim failed", "job_id", id, "error", err)
		return
	}

	handler, ok := d.registry.Lookup(j.Type)
	if !ok {
		d.fail(ctx, j, fmt.Errorf("unknown job type %q", j.Type))
		return
	}

	err = func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panicked: %v", r)
			}
		}()
		return handler(ctx, j.Payload)
	}()
	if err != nil {
		d.fail(ctx, j, err)
		return
	}

	if err := d.store.Complete(ctx, j.ID); err != nil {
		slog.ErrorContext(ctx, "dispatcher: complete failed", "job_id", j.ID, "error", err)
	}
}

// fail implements the two failure branches of Phase C: schedule a retry
// with exponential backoff, or move to the dead letter stream once the
// attempt budget is exhausted.
func (d *Dispatcher) fail(ctx context.Context, j *job.Job, cause error) {
	if j.Attempts >= j.MaxAttempts {
		if err := d.store.DeadLetter(ctx, j.ID, cause.Error()); err != nil {
			slog.ErrorContext(ctx, "dispatcher: dead-letter store update failed", "job_id", j.ID, "error", err)
			return
		}
		if err := d.broker.DeadLetterPush(ctx, j.ID); err != nil {
			slog.ErrorContext(ctx, "dispatcher: dead-letter push failed", "job_id", j.ID, "error", err)
		}
		return
	}

	if err := d.store.Retry(ctx, j.ID, cause.Error()); err != nil {
		slog.ErrorContext(ctx, "dispatcher: retry store update failed", "job_id", j.ID, "error", err)
		return
	}

	delay := retryDelay(j.Attempts)
	if err := d.broker.RetryAdd(ctx, j.ID, time.Now().Add(delay)); err != nil {
		slog.ErrorContext(ctx, "dispatcher: retry schedule failed", "job_id", j.ID, "error", err)
	}
}

// retryDelay computes the bounded exponential backoff delay = 2^attempts
// seconds.
func retryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 20 {
		attempts = 20 // guards against overflow; far beyond any realistic max_attempts
	}
	seconds := int64(1) << uint(attempts)
	return time.Duration(seconds) * time.Second
}
