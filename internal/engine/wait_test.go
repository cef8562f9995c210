package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitFor_SucceedsImmediately(t *testing.T) {
	calls := 0
	err := WaitFor(context.Background(), "immediate", time.Second, time.Millisecond, func(ctx context.Context) (bool, error) {
		calls++
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWaitFor_MinimumOneAttemptEvenWithZeroTotal(t *testing.T) {
	calls := 0
	err := WaitFor(context.Background(), "zero budget", 0, time.Millisecond, func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 1, calls)
}

func TestWaitFor_RetriesUntilTrue(t *testing.T) {
	calls := 0
	err := WaitFor(context.Background(), "eventual", time.Second, time.Millisecond, func(ctx context.Context) (bool, error) {
		calls++
		return calls >= 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWaitFor_PredicateErrorAbortsImmediately(t *testing.T) {
	predicateErr := errors.New("predicate broke")
	calls := 0
	err := WaitFor(context.Background(), "broken", time.Second, time.Millisecond, func(ctx context.Context) (bool, error) {
		calls++
		return false, predicateErr
	})
	assert.ErrorIs(t, err, predicateErr)
	assert.Equal(t, 1, calls)
}

func TestWaitFor_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitFor(ctx, "cancelled", time.Second, 5*time.Millisecond, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	assert.Error(t, err)
}

func TestIsTimeout(t *testing.T) {
	err := WaitFor(context.Background(), "always false", 10*time.Millisecond, time.Millisecond, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	assert.True(t, IsTimeout(err))
	assert.False(t, IsTimeout(errors.New("not a timeout")))
}
