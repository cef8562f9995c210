package domain

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState() *State {
	return NewState(slog.Default())
}

func TestState_AddHostRejectsDuplicates(t *testing.T) {
	s := newTestState()
	require.NoError(t, s.AddHost(&Host{Name: "h1"}))
	assert.Error(t, s.AddHost(&Host{Name: "h1"}))
}

func TestState_ActiveAndFailedNeverOverlap(t *testing.T) {
	s := newTestState()
	h := &Host{Name: "h1"}
	require.NoError(t, s.AddHost(h))

	s.FailHost(h, "stage-x", "broke")

	assert.Empty(t, s.ActiveHosts())
	require.Len(t, s.FailedHosts(), 1)
	assert.Equal(t, "h1", s.FailedHosts()[0].Name)
	assert.True(t, h.Failed())
}

func TestState_FailHostIsIdempotent(t *testing.T) {
	s := newTestState()
	h := &Host{Name: "h1"}
	require.NoError(t, s.AddHost(h))

	s.FailHost(h, "stage-x", "first reason")
	s.FailHost(h, "stage-y", "second reason")

	assert.Equal(t, "stage-x", h.Failure.Stage)
	assert.Equal(t, "first reason", h.Failure.Reason)
}

func TestState_HostsNeverReactivateAfterMerge(t *testing.T) {
	s := newTestState()
	h1 := &Host{Name: "h1"}
	h2 := &Host{Name: "h2"}
	require.NoError(t, s.AddHost(h1))
	require.NoError(t, s.AddHost(h2))

	s.FailHost(h1, "stage-x", "broke")
	s.MergeFailedIntoAllFailed()

	assert.Empty(t, s.FailedHosts())
	require.Len(t, s.AllFailedHosts(), 1)
	assert.Len(t, s.ActiveHosts(), 1)
	assert.Equal(t, "h2", s.ActiveHosts()[0].Name)
}

func TestState_SortedByName(t *testing.T) {
	s := newTestState()
	require.NoError(t, s.AddHost(&Host{Name: "zeta"}))
	require.NoError(t, s.AddHost(&Host{Name: "alpha"}))
	require.NoError(t, s.AddHost(&Host{Name: "mid"}))

	names := make([]string, 0, 3)
	for _, h := range s.ActiveHosts() {
		names = append(names, h.Name)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestState_Success(t *testing.T) {
	s := newTestState()
	h := &Host{Name: "h1"}
	require.NoError(t, s.AddHost(h))
	assert.True(t, s.Success())

	s.FailHost(h, "stage-x", "broke")
	assert.False(t, s.Success())
}

func TestWithHostLogger_ScopesToGoroutine(t *testing.T) {
	base := slog.Default()
	h := &Host{Name: "h1"}
	ctx := WithHostLogger(context.Background(), base, h)

	scoped := LoggerFromContext(ctx, base)
	assert.NotEqual(t, base, scoped)

	fallback := LoggerFromContext(context.Background(), base)
	assert.Equal(t, base, fallback)
}
