package scheduler_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/noctua-labs/jobqueue/internal/broker"
	"github.com/noctua-labs/jobqueue/internal/scheduler"
)

func TestSchedulerPromotesDueRetries(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := broker.New(context.Background(), broker.Config{URL: fmt.Sprintf("redis://%s", mr.Addr())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, b.RetryAdd(context.Background(), "due-job", time.Now().Add(-time.Second)))

	sch := scheduler.New(b, scheduler.Config{PollInterval: 20 * time.Millisecond, BatchCap: 10})

	ctx, cancel := context.WithCancel(context.Background())
	go sch.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	var id string
	var ok bool
	for time.Now().Before(deadline) {
		id, ok, err = b.ReadyPop(context.Background(), 20*time.Millisecond)
		require.NoError(t, err)
		if ok {
			break
		}
	}
	cancel()

	require.True(t, ok, "expected due retry to be promoted to ready")
	require.Equal(t, "due-job", id)
}
