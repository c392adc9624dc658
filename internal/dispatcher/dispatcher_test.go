package dispatcher_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/noctua-labs/jobqueue/internal/broker"
	"github.com/noctua-labs/jobqueue/internal/dispatcher"
	"github.com/noctua-labs/jobqueue/internal/job"
	"github.com/noctua-labs/jobqueue/internal/registry"
)

// fakeStore is an in-memory job.Store sufficient to exercise the
// dispatcher's claim/complete/retry/dead-letter transitions without a
// database.
type fakeStore struct {
	mu   sync.Mutex
	jobs map[string]*job.Job

	deadLettered []string
	retried      []string
	completed    []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*job.Job)}
}

func (s *fakeStore) put(j *job.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
}

func (s *fakeStore) Insert(ctx context.Context, j *job.Job) (*job.Job, bool, error) {
	s.put(j)
	return j, true, nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	return j, nil
}

func (s *fakeStore) List(ctx context.Context, params job.ListParams) (*job.ListResult, error) {
	return &job.ListResult{}, nil
}

func (s *fakeStore) Claim(ctx context.Context, id string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	if j.Status != job.StatusPending && j.Status != job.StatusRetrying {
		return nil, job.ErrStaleStatus
	}
	j.Status = job.StatusProcessing
	j.Attempts++
	copied := *j
	return &copied, nil
}

func (s *fakeStore) Complete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, id)
	if j, ok := s.jobs[id]; ok {
		j.Status = job.StatusCompleted
	}
	return nil
}

func (s *fakeStore) Retry(ctx context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retried = append(s.retried, id)
	if j, ok := s.jobs[id]; ok {
		j.Status = job.StatusRetrying
	}
	return nil
}

func (s *fakeStore) DeadLetter(ctx context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadLettered = append(s.deadLettered, id)
	if j, ok := s.jobs[id]; ok {
		j.Status = job.StatusDeadLetter
	}
	return nil
}

func (s *fakeStore) ListDeadLetter(ctx context.Context, limit int) ([]*job.DeadLetterJob, error) {
	return nil, nil
}

func (s *fakeStore) RetryDeadLetter(ctx context.Context, deadLetterID string) (string, error) {
	return "", nil
}

func (s *fakeStore) DiscardDeadLetter(ctx context.Context, deadLetterID, note string) error {
	return nil
}

func (s *fakeStore) Counts(ctx context.Context) (map[job.Status]int64, error) {
	return nil, nil
}

func (s *fakeStore) Close() error { return nil }

func newTestBroker(t *testing.T) *broker.Broker {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := broker.New(context.Background(), broker.Config{URL: fmt.Sprintf("redis://%s", mr.Addr())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestProcessCompletesOnSuccessfulHandler(t *testing.T) {
	store := newFakeStore()
	b := newTestBroker(t)
	store.put(&job.Job{ID: "job-1", Type: "noop", Status: job.StatusPending, MaxAttempts: 3})

	reg := registry.NewBuilder().
		Register("noop", func(ctx context.Context, payload json.RawMessage) error { return nil }).
		Build()

	d := dispatcher.New(store, b, reg, dispatcher.Config{MaxConcurrency: 2, QueuePollTimeout: 50 * time.Millisecond})
	require.NoError(t, b.ReadyPush(context.Background(), "job-1"))

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.completed) == 1
	})

	cancel()
	d.Wait()
}

func TestProcessSchedulesRetryOnFailureWithBudget(t *testing.T) {
	store := newFakeStore()
	b := newTestBroker(t)
	store.put(&job.Job{ID: "job-2", Type: "always-fails", Status: job.StatusPending, MaxAttempts: 3})

	reg := registry.NewBuilder().
		Register("always-fails", func(ctx context.Context, payload json.RawMessage) error {
			return fmt.Errorf("boom")
		}).
		Build()

	d := dispatcher.New(store, b, reg, dispatcher.Config{MaxConcurrency: 1, QueuePollTimeout: 50 * time.Millisecond})
	require.NoError(t, b.ReadyPush(context.Background(), "job-2"))

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.retried) == 1
	})

	_, retrying, _, err := b.Lengths(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), retrying)

	cancel()
	d.Wait()
}

func TestProcessDeadLettersOnExhaustedBudget(t *testing.T) {
	store := newFakeStore()
	b := newTestBroker(t)
	// Attempts will be incremented to 3 by Claim, equal to MaxAttempts:
	// the fail branch must treat this as exhausted.
	store.put(&job.Job{ID: "job-3", Type: "always-fails", Status: job.StatusPending, Attempts: 2, MaxAttempts: 3})

	reg := registry.NewBuilder().
		Register("always-fails", func(ctx context.Context, payload json.RawMessage) error {
			return fmt.Errorf("boom")
		}).
		Build()

	d := dispatcher.New(store, b, reg, dispatcher.Config{MaxConcurrency: 1, QueuePollTimeout: 50 * time.Millisecond})
	require.NoError(t, b.ReadyPush(context.Background(), "job-3"))

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.deadLettered) == 1
	})

	_, _, dead, err := b.Lengths(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), dead)

	cancel()
	d.Wait()
}

func TestProcessIgnoresStaleClaim(t *testing.T) {
	store := newFakeStore()
	b := newTestBroker(t)
	store.put(&job.Job{ID: "job-4", Type: "noop", Status: job.StatusCompleted, MaxAttempts: 3})

	reg := registry.NewBuilder().
		Register("noop", func(ctx context.Context, payload json.RawMessage) error { return nil }).
		Build()

	d := dispatcher.New(store, b, reg, dispatcher.Config{MaxConcurrency: 1, QueuePollTimeout: 50 * time.Millisecond})
	require.NoError(t, b.ReadyPush(context.Background(), "job-4"))

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	time.Sleep(200 * time.Millisecond)
	cancel()
	d.Wait()

	require.Empty(t, store.completed)
	require.Empty(t, store.retried)
	require.Empty(t, store.deadLettered)
}
