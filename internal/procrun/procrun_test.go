package procrun

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLocal_CapturesStdoutAndExitCode(t *testing.T) {
	res, err := RunLocal(context.Background(), slog.Default(), []string{"sh", "-c", "echo hello; exit 0"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "hello")
}

func TestRunLocal_NonZeroExitIsNotAnError(t *testing.T) {
	res, err := RunLocal(context.Background(), slog.Default(), []string{"sh", "-c", "exit 7"})
	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitCode)
}
