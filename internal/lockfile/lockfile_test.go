package lockfile

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpec(t *testing.T) {
	assert.Equal(t, Spec{Path: "/tmp/a", Mode: Exclusive}, ParseSpec("/tmp/a"))
	assert.Equal(t, Spec{Path: "/tmp/a", Mode: Shared}, ParseSpec("/tmp/a,r"))
}

func TestAcquire_ExclusiveContendsAgainstItself(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	spec := Spec{Path: path, Mode: Exclusive}

	l1, err := Acquire(spec)
	require.NoError(t, err)
	defer l1.Release()

	_, err = Acquire(spec)
	assert.ErrorIs(t, err, ErrContended)
}

func TestAcquire_SharedAllowsConcurrentReaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	spec := Spec{Path: path, Mode: Shared}

	l1, err := Acquire(spec)
	require.NoError(t, err)
	defer l1.Release()

	l2, err := Acquire(spec)
	require.NoError(t, err)
	defer l2.Release()
}

func TestAcquireAll_SortsByPathAndReleasesOnFailure(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.lock")
	pathB := filepath.Join(dir, "b.lock")

	held, err := AcquireAll(context.Background(), slog.Default(), []Spec{{Path: pathB}, {Path: pathA}})
	require.NoError(t, err)
	require.Len(t, held, 2)

	_, err = Acquire(Spec{Path: pathA})
	assert.True(t, errors.Is(err, ErrContended))

	ReleaseAll(slog.Default(), held)

	l, err := Acquire(Spec{Path: pathA})
	require.NoError(t, err)
	l.Release()
}
