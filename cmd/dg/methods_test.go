package main

import (
	"testing"

	"github.com/oriys/dg/internal/configclient"
	"github.com/oriys/dg/internal/domain"
	"github.com/oriys/dg/internal/methods"
	"github.com/oriys/dg/internal/option"
	"github.com/oriys/dg/internal/stages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// draftValues returns an all-defaults Values good enough to build the
// "simple" stage list once, purely to learn its fixed StageTypeNames set
// (the stage list's shape doesn't depend on flag values, only the fields
// bound onto each stage do).
func draftValues() option.Values {
	_, values := option.NewFlagSet("draft", append(append([]option.Spec{}, option.CoreFlags...), buildOptionRegistry().All()...))
	return values
}

func parseSimpleArgs(t *testing.T, args []string) option.Values {
	t.Helper()
	registry := buildOptionRegistry()
	draft := &methods.Method{Name: "simple", Stages: buildSimpleStages(draftValues(), nil)}
	values, err := option.ParseMethodSpecific(registry, methods.StageTypeNames(draft), args)
	require.NoError(t, err)
	return values
}

func TestBuildSimpleStages_BindsLogins(t *testing.T) {
	args := []string{
		"-m", "simple",
		"-ll", "root", "-lw", "Administrator",
		"-l", "10.0.0.1",
		"-wp", "windows10", "-wd", "wdata:D",
		"-n", "host1:/in:/out",
	}
	values := parseSimpleArgs(t, args)

	cfg := configclient.NewClient(values.String("c"), nil)
	built := buildSimpleStages(values, cfg)
	require.NotEmpty(t, built)

	var windows *stages.RunCommands
	for _, st := range built {
		if rc, ok := st.(*stages.RunCommands); ok && rc.Name() == "CustomizeWindowsSetup" {
			windows = rc
		}
	}
	require.NotNil(t, windows)
	assert.Equal(t, "root", windows.Login)

	var accessible *stages.ExecuteRemoteCommands
	for _, st := range built {
		if erc, ok := st.(*stages.ExecuteRemoteCommands); ok && erc.Name() == "CheckIsAccessible" {
			accessible = erc
		}
	}
	require.NotNil(t, accessible)
	assert.Equal(t, "root", accessible.LinuxLogin)
	assert.Equal(t, "Administrator", accessible.WindowsLogin)
}

func TestBuildSimpleStages_MalformedNDDSpecIsSkippedNotFatal(t *testing.T) {
	args := []string{"-m", "simple", "-l", "10.0.0.1", "-n", "not-a-valid-spec"}
	values := parseSimpleArgs(t, args)

	cfg := configclient.NewClient(values.String("c"), nil)
	built := buildSimpleStages(values, cfg)

	var ndd *stages.RunNDD
	for _, st := range built {
		if r, ok := st.(*stages.RunNDD); ok {
			ndd = r
		}
	}
	require.NotNil(t, ndd)
	assert.Empty(t, ndd.NDDs)
}

func TestBindHostSelection_SetsInitHostsFields(t *testing.T) {
	cfg := configclient.NewClient("http://x", nil)
	ih := &stages.InitHosts{Config: cfg}
	all := []domain.Stage{ih, &stages.ExcludeBannedHosts{}}

	bindHostSelection(all, []string{"h1", "h2"}, []string{"g1"})

	assert.Equal(t, []string{"h1", "h2"}, ih.HostNames)
	assert.Equal(t, []string{"g1"}, ih.GroupNames)
}

func TestBindHostSelection_NoInitHostsIsNoop(t *testing.T) {
	all := []domain.Stage{&stages.ExcludeBannedHosts{}}
	assert.NotPanics(t, func() { bindHostSelection(all, []string{"h1"}, nil) })
}
