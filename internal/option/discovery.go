package option

import (
	"fmt"

	"github.com/spf13/pflag"
)

// CoreFlags are the fixed flags every invocation accepts regardless of
// which stages are selected (spec §6): -m, -s, -H, -g, --lock, -C, -r,
// --config.
var CoreFlags = []Spec{
	Required("m", "m", TString, "method to run"),
	stageSelectionSpec(),
	WithDefault("H", "H", TStringSlice, EMPTY, "target host"),
	WithDefault("g", "g", TStringSlice, EMPTY, "target group"),
	WithDefault("lock", "", TStringSlice, EMPTY, "advisory lock file, optionally 'PATH,r' for shared"),
	WithDefault("C", "C", TBool, false, "colorize log output"),
	WithDefault("r", "r", TStringSlice, EMPTY, "report email address"),
	WithDefault("config", "", TString, "", "load all flags from this JSON file"),
}

func stageSelectionSpec() Spec {
	spec := WithDefault("s", "s", TStringSlice, EMPTY, "stage selection, e.g. '0,2-4'; empty lists stages and exits")
	spec.NoArgMeansEmpty = true
	return spec
}

// Discovery is the result of the first parsing phase: the core flags, plus
// a FlagSet pre-loaded with every flag any stage in the registry might
// need, so that unknown-flag errors never surface before the method's
// actual stage subset is known.
type Discovery struct {
	Values   Values
	FlagSet  *pflag.FlagSet
}

// ParseDiscovery runs the first of the two parsing phases (spec §4.5.1):
// parse args against the core flags plus the full registry, tolerating
// unset no-default flags (those are only enforced once the method-specific
// phase knows which stages actually need them).
func ParseDiscovery(registry *Registry, args []string) (*Discovery, error) {
	specs := append(append([]Spec{}, CoreFlags...), registry.All()...)
	fs, values := NewFlagSet("discovery", specs)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("option: discovery parse: %w", err)
	}
	return &Discovery{Values: values, FlagSet: fs}, nil
}

// ParseMethodSpecific runs the second phase (spec §4.5.2): re-parse args
// against only the flags the selected stage types require (plus the core
// flags, since -H/-g/etc. are always in scope), enforcing that no-default
// flags are present now that the stage subset is fixed.
func ParseMethodSpecific(registry *Registry, stageTypes []string, args []string) (Values, error) {
	required := registry.FlagsFor(stageTypes)
	specs := append(append([]Spec{}, CoreFlags...), required...)
	_, values := NewFlagSet("method", specs)

	fs := values.fs
	if err := fs.Parse(args); err != nil {
		return Values{}, fmt.Errorf("option: method-specific parse: %w", err)
	}
	if err := RequireAfterParse(values, required); err != nil {
		return Values{}, err
	}
	return values, nil
}
