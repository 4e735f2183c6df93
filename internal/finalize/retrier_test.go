package finalize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWithRetrySucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	calls := 0
	perform := func(context.Context) (bool, error) {
		calls++
		return true, nil
	}

	err := WithRetry(context.Background(), ActionFinish, perform, "job-1", zap.NewNop(), Options{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestWithRetrySucceedsAfterMisses(t *testing.T) {
	t.Parallel()

	calls := 0
	perform := func(context.Context) (bool, error) {
		calls++
		return calls >= 3, nil
	}

	err := WithRetry(context.Background(), ActionFinish, perform, "job-2", zap.NewNop(), Options{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestWithRetryExhaustionWithoutStoreError(t *testing.T) {
	t.Parallel()

	calls := 0
	perform := func(context.Context) (bool, error) {
		calls++
		return false, nil
	}

	err := WithRetry(context.Background(), ActionFail, perform, "job-3", zap.NewNop(), Options{
		MaxAttempts: 2,
		BackoffBase: time.Millisecond,
	})
	require.Equal(t, 2, calls)

	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	require.Equal(t, ActionFail, failed.Action)
	require.Equal(t, "job-3", failed.JobID)
	require.Equal(t, 2, failed.Attempts)
	require.ErrorIs(t, err, ErrNoRowsAffected)
	require.Contains(t, err.Error(), "zero rows affected")
}

func TestWithRetryCarriesLastStoreError(t *testing.T) {
	t.Parallel()

	first := errors.New("connection reset")
	last := errors.New("deadline exceeded")
	calls := 0
	perform := func(context.Context) (bool, error) {
		calls++
		if calls == 1 {
			return false, first
		}
		return false, last
	}

	err := WithRetry(context.Background(), ActionFinish, perform, "job-4", zap.NewNop(), Options{
		MaxAttempts: 2,
		BackoffBase: time.Millisecond,
	})
	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	require.ErrorIs(t, err, last)
	require.NotErrorIs(t, err, first)
}

func TestWithRetryDefaults(t *testing.T) {
	t.Parallel()

	calls := 0
	perform := func(context.Context) (bool, error) {
		calls++
		return false, nil
	}

	start := time.Now()
	err := WithRetry(context.Background(), ActionFinish, perform, "job-5", zap.NewNop(), Options{
		BackoffBase: time.Millisecond,
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
	// Linear backoff: 1ms + 2ms between three attempts.
	require.GreaterOrEqual(t, time.Since(start), 3*time.Millisecond)
}

func TestWithRetryMixedNoOpAndError(t *testing.T) {
	t.Parallel()

	storeErr := errors.New("tx aborted")
	calls := 0
	perform := func(context.Context) (bool, error) {
		calls++
		if calls == 1 {
			return false, storeErr
		}
		return false, nil
	}

	err := WithRetry(context.Background(), ActionFail, perform, "job-6", zap.NewNop(), Options{
		MaxAttempts: 2,
		BackoffBase: time.Millisecond,
	})
	// The last attempt was a no-op write, so the synthetic cause wins.
	require.ErrorIs(t, err, ErrNoRowsAffected)
}
