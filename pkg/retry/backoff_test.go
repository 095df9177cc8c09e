package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestJobBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{9, 512 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, JobBackoff(tt.attempts))
	}
}

func TestWithBackoff_SucceedsWithoutRetry(t *testing.T) {
	logger := zap.NewNop()
	calls := 0
	err := WithBackoff(context.Background(), DefaultConfig(), logger, "op", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithBackoff_RetriesThenSucceeds(t *testing.T) {
	logger := zap.NewNop()
	cfg := Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	calls := 0
	err := WithBackoff(context.Background(), cfg, logger, "op", func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithBackoff_ExhaustsRetries(t *testing.T) {
	logger := zap.NewNop()
	cfg := Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}

	calls := 0
	err := WithBackoff(context.Background(), cfg, logger, "op", func() error {
		calls++
		return errors.New("always fails")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithBackoff_RespectsContextCancellation(t *testing.T) {
	logger := zap.NewNop()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
	err := WithBackoff(ctx, cfg, logger, "op", func() error {
		return errors.New("fails")
	})
	assert.Error(t, err)
}
