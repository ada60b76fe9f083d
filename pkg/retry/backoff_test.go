package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/statelens/statelens/pkg/retry"
)

func fastConfig() retry.Config {
	return retry.Config{
		MaxRetries:    3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		Multiplier:    2.0,
		JitterEnabled: false,
	}
}

func TestWithBackoffSucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := retry.WithBackoff(context.Background(), fastConfig(), zaptest.NewLogger(t), "flaky", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithBackoffExhaustsRetries(t *testing.T) {
	boom := errors.New("down")
	attempts := 0
	err := retry.WithBackoff(context.Background(), fastConfig(), zaptest.NewLogger(t), "dead", func() error {
		attempts++
		return boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts)
}

func TestWithBackoffObservesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retry.WithBackoff(ctx, fastConfig(), zaptest.NewLogger(t), "cancelled", func() error {
		return errors.New("never succeeds")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestForeverOutlastsMaxRetries(t *testing.T) {
	attempts := 0
	err := retry.Forever(context.Background(), fastConfig(), zaptest.NewLogger(t), "stubborn", func() error {
		attempts++
		if attempts < 7 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 7, attempts, "attempt count is unbounded by MaxRetries")
}

func TestForeverReturnsOnlyOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := retry.Forever(ctx, fastConfig(), zaptest.NewLogger(t), "hopeless", func() error {
		return errors.New("always fails")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
