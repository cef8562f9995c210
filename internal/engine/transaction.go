// Package engine holds the run-time kernel shared by every stage: the
// transaction primitive, the wait loop, and the stage/pipeline drivers that
// turn a domain.Stage list into a single pass/fail run.
package engine

import (
	"context"
	"fmt"
	"log/slog"
)

// ExitFunc runs when a Transaction body finishes. value is whatever Prepare
// returned (nil if there was no Prepare); bodyErr is the body's error, nil
// on success. Its own error is logged, never returned to the caller — a
// cleanup failure must not mask the original outcome.
type ExitFunc func(ctx context.Context, value any, bodyErr error) error

// Transaction is the Go equivalent of the original implementation's
// transact() contextmanager: Prepare runs once up front, then exactly one
// of Commit (body succeeded) or Rollback (body failed) runs, or — for
// transactions with no distinct commit/rollback behavior — Final runs
// either way. Final is mutually exclusive with Commit/Rollback.
type Transaction struct {
	Prepare  func(ctx context.Context) (any, error)
	Commit   ExitFunc
	Rollback ExitFunc
	Final    ExitFunc

	// Logger receives exit-action errors. Defaults to slog.Default() if nil.
	Logger *slog.Logger
}

// Run executes body inside the transaction. It returns body's error (if
// any); Prepare's error short-circuits body entirely.
func (t Transaction) Run(ctx context.Context, body func(ctx context.Context, value any) error) error {
	if t.Final != nil && (t.Commit != nil || t.Rollback != nil) {
		panic("engine: Transaction.Final is mutually exclusive with Commit/Rollback")
	}

	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var value any
	if t.Prepare != nil {
		v, err := t.Prepare(ctx)
		if err != nil {
			return fmt.Errorf("transaction prepare: %w", err)
		}
		value = v
	}

	bodyErr := body(ctx, value)

	var exit ExitFunc
	switch {
	case bodyErr != nil && t.Rollback != nil:
		exit = t.Rollback
	case bodyErr == nil && t.Commit != nil:
		exit = t.Commit
	case t.Final != nil:
		exit = t.Final
	}

	if exit != nil {
		runExit(ctx, logger, value, bodyErr, exit)
	}
	return bodyErr
}

// runExit calls exit, logging (never propagating) both its error return and
// any panic it raises — a bookkeeping failure during cleanup must never
// replace the body's real outcome.
func runExit(ctx context.Context, logger *slog.Logger, value any, bodyErr error, exit ExitFunc) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("transaction exit action panicked", "panic", r)
		}
	}()
	if err := exit(ctx, value, bodyErr); err != nil {
		logger.Error("transaction exit action failed", "error", err)
	}
}
