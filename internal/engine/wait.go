package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeoutError reports that a predicate never became true within the
// allotted time. Description identifies what was being waited for, for
// log lines and error messages ("host ssh reachable", "iscsi login").
type TimeoutError struct {
	Description string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s", e.Description)
}

// IsTimeout reports whether err is (or wraps) a *TimeoutError.
func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}

// Predicate is polled by WaitFor. A true return ends the wait successfully;
// an error aborts the wait immediately and is returned as-is (not wrapped
// in a TimeoutError — a predicate error means something broke, not that
// time ran out).
type Predicate func(ctx context.Context) (bool, error)

// WaitFor polls predicate every step until it returns true, total elapses,
// or ctx is cancelled. At least one attempt is always made, even when
// total <= 0 — this is a deliberate tie-break: unlike the
// original implementation's `while elapsed < timeout` loop, which can skip
// the call entirely when timeout is zero, a caller of WaitFor always gets
// to observe the predicate at least once.
func WaitFor(ctx context.Context, description string, total, step time.Duration, predicate Predicate) error {
	start := time.Now()
	for {
		ok, err := predicate(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Since(start) >= total {
			return &TimeoutError{Description: description}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step):
		}
	}
}
