package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/oriys/dg/internal/lockfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConfigFile_PassesThroughWithoutConfigFlag(t *testing.T) {
	args := []string{"-m", "simple", "-H", "h1"}
	got, err := resolveConfigFile(args)
	require.NoError(t, err)
	assert.Equal(t, args, got)
}

func TestResolveConfigFile_ExpandsConfigFlag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"m":"simple","H":["h1","h2"]}`), 0o644))

	got, err := resolveConfigFile([]string{"--config", path})
	require.NoError(t, err)
	assert.Contains(t, got, "-m")
	assert.Contains(t, got, "simple")
}

func TestResolveConfigFile_RejectsConfigWithOtherFlags(t *testing.T) {
	_, err := resolveConfigFile([]string{"--config", "/tmp/x.json", "-H", "h1"})
	assert.Error(t, err)
}

func TestExitCodeFor_UnwrapsExitError(t *testing.T) {
	err := &exitError{code: 2, err: errors.New("boom")}
	assert.Equal(t, 2, exitCodeFor(err))
}

func TestExitCodeFor_DefaultsToOneForPlainError(t *testing.T) {
	assert.Equal(t, 1, exitCodeFor(errors.New("boom")))
}

func TestExitCodeFor_LockContentionCode(t *testing.T) {
	err := &exitError{code: lockfile.ContendedExitCode, err: lockfile.ErrContended}
	assert.Equal(t, lockfile.ContendedExitCode, exitCodeFor(err))
}
