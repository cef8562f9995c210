package option

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_FlagsForUnionsAndDedupes(t *testing.T) {
	r := NewRegistry()
	r.Require("InitHosts", WithDefault("c", "c", TString, "https://urgu.org/config", "config URL"))
	r.Require("DetermineAMTHosts", WithDefault("c", "c", TString, "https://urgu.org/config", "config URL"), Required("p", "p", TString, "amt creds file"))

	specs := r.FlagsFor([]string{"InitHosts", "DetermineAMTHosts"})
	require.Len(t, specs, 2)
	names := []string{specs[0].Name, specs[1].Name}
	assert.ElementsMatch(t, []string{"c", "p"}, names)
}

func TestParseMethodSpecific_RequiredFlagMustBeSet(t *testing.T) {
	r := NewRegistry()
	r.Require("DetermineAMTHosts", Required("p", "p", TString, "amt creds file"))

	_, err := ParseMethodSpecific(r, []string{"DetermineAMTHosts"}, []string{"-m", "simple"})
	var missing *MissingFlagError
	require.ErrorAs(t, err, &missing)
	assert.Contains(t, missing.Flags, "p")
}

func TestParseMethodSpecific_OnlySelectedStageFlagsAreExposed(t *testing.T) {
	r := NewRegistry()
	r.Require("InitHosts", WithDefault("c", "c", TString, "default-url", "config URL"))
	r.Require("EnsureNetworkSpeed", WithDefault("ns", "", TInt, 300, "min mbit/s"))

	values, err := ParseMethodSpecific(r, []string{"InitHosts"}, []string{"-m", "simple", "-c", "http://x"})
	require.NoError(t, err)
	assert.Equal(t, "http://x", values.String("c"))

	_, err = ParseMethodSpecific(r, []string{"InitHosts"}, []string{"-m", "simple", "--ns", "500"})
	assert.Error(t, err)
}

func TestArgsFromConfigFile_TokenisesEquivalently(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"m":"simple","H":["h1","h2"],"C":true,"ns":400}`), 0o644))

	args, err := ArgsFromConfigFile(path)
	require.NoError(t, err)

	r := NewRegistry()
	r.Require("EnsureNetworkSpeed", WithDefault("ns", "", TInt, 300, "min mbit/s"))

	values, err := ParseMethodSpecific(r, []string{"EnsureNetworkSpeed"}, args)
	require.NoError(t, err)
	assert.Equal(t, "simple", values.String("m"))
	assert.Equal(t, []string{"h1", "h2"}, values.StringSlice("H"))
	assert.True(t, values.Bool("C"))
	assert.Equal(t, 400, values.Int("ns"))
}

func TestParseDiscovery_EmptyStagesFlagIsDetectable(t *testing.T) {
	r := NewRegistry()
	d, err := ParseDiscovery(r, []string{"-m", "simple", "-s", "-H", "h1"})
	require.NoError(t, err)
	assert.True(t, d.Values.Changed("s"))
	assert.Empty(t, d.Values.StringSlice("s"))
}
