package methods

import (
	"context"
	"testing"

	"github.com/oriys/dg/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedStage string

func (s namedStage) Name() string { return string(s) }
func (s namedStage) Run(ctx context.Context, state *domain.State) error { return nil }

func testMethod() *Method {
	return &Method{
		Name: "simple",
		Stages: []domain.Stage{
			namedStage("InitHosts"),
			namedStage("ExcludeBannedHosts"),
			namedStage("CheckIsAccessible"),
			namedStage("SetBootIntoCOWMemory"),
			namedStage("RebootHost"),
		},
	}
}

func TestRegistry_GetAndNames(t *testing.T) {
	r := NewRegistry()
	r.Register(testMethod())

	m, err := r.Get("simple")
	require.NoError(t, err)
	assert.Equal(t, "simple", m.Name)

	_, err = r.Get("missing")
	assert.Error(t, err)

	assert.Equal(t, []string{"simple"}, r.Names())
}

func TestRegistry_RegisterDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(testMethod())
	assert.Panics(t, func() { r.Register(testMethod()) })
}

func TestStageTypeNames_Dedupes(t *testing.T) {
	names := StageTypeNames(testMethod())
	assert.Equal(t, []string{
		"InitHosts", "ExcludeBannedHosts", "CheckIsAccessible",
		"SetBootIntoCOWMemory", "RebootHost",
	}, names)
}

func TestSelectStages_EmptySpecSelectsAll(t *testing.T) {
	m := testMethod()
	selected, err := SelectStages(m, nil)
	require.NoError(t, err)
	assert.Equal(t, m.Stages, selected)
}

func TestSelectStages_SingleIndicesAndRanges(t *testing.T) {
	m := testMethod()
	selected, err := SelectStages(m, []string{"0", "2-4"})
	require.NoError(t, err)
	require.Len(t, selected, 4)
	assert.Equal(t, "InitHosts", selected[0].Name())
	assert.Equal(t, "CheckIsAccessible", selected[1].Name())
	assert.Equal(t, "SetBootIntoCOWMemory", selected[2].Name())
	assert.Equal(t, "RebootHost", selected[3].Name())
}

func TestSelectStages_OutOfRangeIndexErrors(t *testing.T) {
	m := testMethod()
	_, err := SelectStages(m, []string{"9"})
	assert.Error(t, err)
}

func TestSelectStages_MalformedTokenErrors(t *testing.T) {
	m := testMethod()
	_, err := SelectStages(m, []string{"abc"})
	assert.Error(t, err)
}
