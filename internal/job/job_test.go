package job_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noctua-labs/jobqueue/internal/job"
)

func TestTruncateLeavesShortMessageUnchanged(t *testing.T) {
	require.Equal(t, "short", job.Truncate("short", 100))
}

func TestTruncateClipsLongMessage(t *testing.T) {
	msg := strings.Repeat("a", job.ErrorMessageMaxLen+500)
	truncated := job.Truncate(msg, job.ErrorMessageMaxLen)
	require.Len(t, truncated, job.ErrorMessageMaxLen)
}

func TestTruncateAtExactLimit(t *testing.T) {
	msg := strings.Repeat("b", job.ErrorMessageMaxLen)
	require.Equal(t, msg, job.Truncate(msg, job.ErrorMessageMaxLen))
}
