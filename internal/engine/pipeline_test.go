package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/dg/internal/domain"
)

func newTestState(t *testing.T, names ...string) *domain.State {
	t.Helper()
	state := domain.NewState(slog.Default())
	for _, n := range names {
		require.NoError(t, state.AddHost(&domain.Host{Name: n}))
	}
	return state
}

// recordingStage is a HostRunner that records which hosts it ran over and
// optionally rolls back, for asserting rollback order.
type recordingStage struct {
	name       string
	fail       map[string]bool
	rollbackFn func()
}

func (s *recordingStage) Name() string { return s.name }

func (s *recordingStage) RunSingle(ctx context.Context, state *domain.State, h *domain.Host) error {
	if s.fail != nil && s.fail[h.Name] {
		return errors.New("boom on " + h.Name)
	}
	return nil
}

func (s *recordingStage) Rollback(ctx context.Context, state *domain.State) error {
	if s.rollbackFn != nil {
		s.rollbackFn()
	}
	return nil
}

// raisingStage is a SerialRunner that always fails the whole stage.
type raisingStage struct {
	name string
}

func (s *raisingStage) Name() string { return s.name }

func (s *raisingStage) Run(ctx context.Context, state *domain.State) error {
	return errors.New("fatal in " + s.name)
}

func TestPipeline_PartialHostFailureIsolatesWithoutRollback(t *testing.T) {
	// Scenario S2: SimpleStage fans out over {h1,h2}; h1 fails. Next stage
	// runs only on h2; no rollback; overall success.
	state := newTestState(t, "h1", "h2")

	var rolledBack bool
	stageA := &recordingStage{name: "a", fail: map[string]bool{"h1": true}, rollbackFn: func() { rolledBack = true }}

	var sawHosts []string
	stageB := &recordingStage{name: "b"}
	stageBProbe := &probeStage{inner: stageB, seen: &sawHosts}

	p, err := NewPipeline([]domain.Stage{stageA, stageBProbe})
	require.NoError(t, err)

	err = p.Run(context.Background(), state)
	require.NoError(t, err)
	assert.False(t, rolledBack)
	assert.Equal(t, []string{"h2"}, sawHosts)
	assert.Len(t, state.ActiveHosts(), 1)
	assert.Len(t, state.FailedHosts(), 1)
}

// probeStage wraps another HostRunner to record which hosts it was invoked
// on, without changing pass/fail behavior.
type probeStage struct {
	inner *recordingStage
	seen  *[]string
}

func (p *probeStage) Name() string { return p.inner.name }

func (p *probeStage) RunSingle(ctx context.Context, state *domain.State, h *domain.Host) error {
	*p.seen = append(*p.seen, h.Name)
	return p.inner.RunSingle(ctx, state, h)
}

func TestPipeline_FatalStageAbortsAndRollsBackReverseOrder(t *testing.T) {
	// Scenario S3: stages [A ok, B ok, C raises]. C.rollback not called;
	// B.rollback called; A.rollback called (in that order); exit 1.
	state := newTestState(t, "h1")

	var order []string
	stageA := &recordingStage{name: "a", rollbackFn: func() { order = append(order, "a") }}
	stageB := &recordingStage{name: "b", rollbackFn: func() { order = append(order, "b") }}
	stageC := &raisingStage{name: "c"}

	p, err := NewPipeline([]domain.Stage{stageA, stageB, stageC})
	require.NoError(t, err)

	err = p.Run(context.Background(), state)
	require.Error(t, err)
	assert.Equal(t, []string{"b", "a"}, order)
}

func TestPipeline_TotalWipeoutRollsBackAndContinues(t *testing.T) {
	state := newTestState(t, "h1")

	var rolledBack []string
	stageA := &recordingStage{name: "a", rollbackFn: func() { rolledBack = append(rolledBack, "a") }}
	stageB := &recordingStage{name: "b", fail: map[string]bool{"h1": true}}
	stageC := &recordingStage{name: "c"}

	p, err := NewPipeline([]domain.Stage{stageA, stageB, stageC})
	require.NoError(t, err)

	err = p.Run(context.Background(), state)
	require.ErrorIs(t, err, domain.ErrAllHostsFailed)
	assert.Equal(t, []string{"a"}, rolledBack)
}

func TestPipeline_RejectsStageWithNoRunShape(t *testing.T) {
	_, err := NewPipeline([]domain.Stage{&nameOnlyStage{}})
	assert.Error(t, err)
}

type nameOnlyStage struct{}

func (nameOnlyStage) Name() string { return "name-only" }
