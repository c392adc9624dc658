package broker_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/noctua-labs/jobqueue/internal/broker"
)

func newTestBroker(t *testing.T) *broker.Broker {
	t.Helper()
	mr := miniredis.RunT(t)

	b, err := broker.New(context.Background(), broker.Config{
		URL: fmt.Sprintf("redis://%s", mr.Addr()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestReadyPushAndPop(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	require.NoError(t, b.ReadyPush(ctx, "job-1"))

	id, ok, err := b.ReadyPop(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "job-1", id)
}

func TestReadyPopTimesOutWhenEmpty(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	id, ok, err := b.ReadyPop(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, id)
}

func TestPromoteDueMovesOnlyDueEntries(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, b.RetryAdd(ctx, "due-1", now.Add(-time.Minute)))
	require.NoError(t, b.RetryAdd(ctx, "due-2", now.Add(-time.Second)))
	require.NoError(t, b.RetryAdd(ctx, "not-due", now.Add(time.Hour)))

	count, err := b.PromoteDue(ctx, now, 10)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		id, ok, err := b.ReadyPop(ctx, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		seen[id] = true
	}
	require.True(t, seen["due-1"])
	require.True(t, seen["due-2"])

	_, ok, err := b.ReadyPop(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok, "not-due entry should remain in the retry set")
}

func TestPromoteDueRespectsBatchCap(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.RetryAdd(ctx, fmt.Sprintf("job-%d", i), now.Add(-time.Minute)))
	}

	count, err := b.PromoteDue(ctx, now, 2)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestDeadLetterPush(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	require.NoError(t, b.DeadLetterPush(ctx, "job-x"))

	_, _, dead, err := b.Lengths(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), dead)
}

func TestLengthsReportsAllThreeStreams(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	require.NoError(t, b.ReadyPush(ctx, "r1"))
	require.NoError(t, b.RetryAdd(ctx, "t1", time.Now().Add(time.Hour)))
	require.NoError(t, b.DeadLetterPush(ctx, "d1"))

	ready, retrying, dead, err := b.Lengths(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), ready)
	require.Equal(t, int64(1), retrying)
	require.Equal(t, int64(1), dead)
}
