// Package lockfile implements the advisory file locking used to serialize
// concurrent invocations of the orchestrator against the same fleet or
// snapshot origin. Grounded on the original implementation's
// util/lock.py, which wraps fcntl.lockf and calls sys.exit(2) on
// contention; golang.org/x/sys/unix gives the same non-blocking flock
// semantics on the Go side.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/oriys/dg/internal/metrics"
	"github.com/oriys/dg/internal/observability"
	"golang.org/x/sys/unix"
)

// Mode is the lock mode requested for a path.
type Mode int

const (
	// Exclusive is the default: only one holder at a time.
	Exclusive Mode = iota
	// Shared allows multiple concurrent readers.
	Shared
)

// ContendedExitCode is the process exit code mandated for lock contention
// (spec §7 category 4, §8 scenario S6).
const ContendedExitCode = 2

// ErrContended is returned by Acquire when the lock is already held.
var ErrContended = errors.New("lockfile: already locked")

// Spec is one parsed --lock argument: a path, and whether it was suffixed
// with ",r" for a shared (read) lock instead of the default exclusive.
type Spec struct {
	Path string
	Mode Mode
}

// ParseSpec parses a single --lock flag value, "PATH" or "PATH,r".
func ParseSpec(raw string) Spec {
	path, suffix, found := strings.Cut(raw, ",")
	if found && suffix == "r" {
		return Spec{Path: path, Mode: Shared}
	}
	return Spec{Path: raw, Mode: Exclusive}
}

// Lock holds one acquired advisory lock, releasable via Release.
type Lock struct {
	spec Spec
	file *os.File
}

// Acquire opens path and attempts a non-blocking flock in the requested
// mode. On contention it returns ErrContended (EAGAIN/EWOULDBLOCK); the
// caller is expected to log and exit(2) per spec, not retry or propagate
// an ordinary error.
func Acquire(spec Spec) (*Lock, error) {
	start := time.Now()
	flag := os.O_RDWR | os.O_CREATE
	f, err := os.OpenFile(spec.Path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", spec.Path, err)
	}

	how := unix.LOCK_EX
	if spec.Mode == Shared {
		how = unix.LOCK_SH
	}

	if err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB); err != nil {
		f.Close()
		metrics.ObserveLockWait(spec.Path, time.Since(start).Seconds())
		if errors.Is(err, unix.EWOULDBLOCK) {
			metrics.RecordLockContention(spec.Path)
			return nil, ErrContended
		}
		return nil, fmt.Errorf("lockfile: flock %s: %w", spec.Path, err)
	}

	metrics.ObserveLockWait(spec.Path, time.Since(start).Seconds())
	return &Lock{spec: spec, file: f}, nil
}

// Release unlocks and closes the underlying file.
func (l *Lock) Release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("lockfile: unlock %s: %w", l.spec.Path, err)
	}
	return l.file.Close()
}

// AcquireAll acquires every spec in sorted-by-path order (to avoid
// cross-run deadlock between two invocations naming the same locks in
// different orders) and returns the held locks, or releases any partial
// acquisitions and returns the first error encountered.
func AcquireAll(ctx context.Context, logger *slog.Logger, specs []Spec) ([]*Lock, error) {
	sorted := make([]Spec, len(specs))
	copy(sorted, specs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	held := make([]*Lock, 0, len(sorted))
	for _, spec := range sorted {
		logger.Info("locking", "path", spec.Path)
		_, span := observability.StartSpan(ctx, "lockfile.acquire", observability.AttrLockPath.String(spec.Path))
		l, err := Acquire(spec)
		if err != nil {
			observability.SetSpanError(span, err)
			span.End()
			for i := len(held) - 1; i >= 0; i-- {
				held[i].Release()
			}
			if errors.Is(err, ErrContended) {
				logger.Error("lock contended, exiting", "path", spec.Path)
			}
			return nil, err
		}
		observability.SetSpanOK(span)
		span.End()
		held = append(held, l)
	}
	return held, nil
}

// ReleaseAll releases locks in reverse acquisition order, logging (never
// returning) any release error — release happens during scope teardown,
// where there is nothing useful to do with a failure but report it.
func ReleaseAll(logger *slog.Logger, locks []*Lock) {
	for i := len(locks) - 1; i >= 0; i-- {
		logger.Info("unlocking", "path", locks[i].spec.Path)
		if err := locks[i].Release(); err != nil {
			logger.Error("failed to release lock", "path", locks[i].spec.Path, "error", err)
		}
	}
}
