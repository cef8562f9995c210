package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransaction_CommitOnSuccess(t *testing.T) {
	var committed, rolledBack bool
	tx := Transaction{
		Prepare: func(ctx context.Context) (any, error) { return "resource", nil },
		Commit: func(ctx context.Context, value any, bodyErr error) error {
			committed = true
			assert.Equal(t, "resource", value)
			assert.NoError(t, bodyErr)
			return nil
		},
		Rollback: func(ctx context.Context, value any, bodyErr error) error {
			rolledBack = true
			return nil
		},
	}

	err := tx.Run(context.Background(), func(ctx context.Context, value any) error {
		assert.Equal(t, "resource", value)
		return nil
	})

	require.NoError(t, err)
	assert.True(t, committed)
	assert.False(t, rolledBack)
}

func TestTransaction_RollbackOnBodyError(t *testing.T) {
	var committed, rolledBack bool
	bodyErr := errors.New("body exploded")

	tx := Transaction{
		Commit: func(ctx context.Context, value any, err error) error {
			committed = true
			return nil
		},
		Rollback: func(ctx context.Context, value any, err error) error {
			rolledBack = true
			assert.ErrorIs(t, err, bodyErr)
			return nil
		},
	}

	err := tx.Run(context.Background(), func(ctx context.Context, value any) error {
		return bodyErr
	})

	require.ErrorIs(t, err, bodyErr)
	assert.False(t, committed)
	assert.True(t, rolledBack)
}

func TestTransaction_FinalRunsRegardlessOfOutcome(t *testing.T) {
	calls := 0
	tx := Transaction{
		Final: func(ctx context.Context, value any, err error) error {
			calls++
			return nil
		},
	}

	require.NoError(t, tx.Run(context.Background(), func(ctx context.Context, value any) error { return nil }))
	require.Error(t, tx.Run(context.Background(), func(ctx context.Context, value any) error { return errors.New("x") }))
	assert.Equal(t, 2, calls)
}

func TestTransaction_FinalMutuallyExclusiveWithCommit(t *testing.T) {
	tx := Transaction{
		Commit: func(ctx context.Context, value any, err error) error { return nil },
		Final:  func(ctx context.Context, value any, err error) error { return nil },
	}

	assert.Panics(t, func() {
		_ = tx.Run(context.Background(), func(ctx context.Context, value any) error { return nil })
	})
}

func TestTransaction_ExitErrorNeverMasksBodyError(t *testing.T) {
	bodyErr := errors.New("body failed")
	tx := Transaction{
		Rollback: func(ctx context.Context, value any, err error) error {
			return errors.New("rollback also failed")
		},
	}

	err := tx.Run(context.Background(), func(ctx context.Context, value any) error {
		return bodyErr
	})

	assert.ErrorIs(t, err, bodyErr)
}

func TestTransaction_PrepareErrorSkipsBody(t *testing.T) {
	prepErr := errors.New("prepare failed")
	bodyCalled := false
	tx := Transaction{
		Prepare: func(ctx context.Context) (any, error) { return nil, prepErr },
	}

	err := tx.Run(context.Background(), func(ctx context.Context, value any) error {
		bodyCalled = true
		return nil
	})

	require.Error(t, err)
	assert.False(t, bodyCalled)
}
