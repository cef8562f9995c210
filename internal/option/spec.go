// Package option implements the declarative "stage class requires flag"
// registry (spec §4.5, C6): stages declare the flags they need, and the
// two-phase parser exposes only the union of flags the selected method's
// stages actually require.
package option

// Type names the pflag accessor a Spec's value is read back through.
type Type int

const (
	TString Type = iota
	TInt
	TBool
	TStringSlice
)

// EMPTY marks a Spec whose default is an empty slice (used for
// action=append-style repeatable flags like -b/-n), distinct from "no
// default" which makes the flag required once a stage needing it is
// selected.
var EMPTY = []string{}

// Spec is one flag a stage class requires. Name is the flag's long name as
// passed to pflag (works for single-letter names like "c" or "m" too).
// HasDefault distinguishes "optional, defaults to Default" from "required
// once a selected stage declares it".
type Spec struct {
	Name       string
	Shorthand  string
	Type       Type
	Default    any
	HasDefault bool
	Usage      string

	// NoArgMeansEmpty marks a flag that, when given with no value (bare
	// "-s" rather than "-s VALUE"), takes an empty value instead of
	// consuming the next token. Spec §4.5.1 uses this for -s: an
	// empty-valued -s prints the stage list and exits, rather than
	// greedily eating the flag that follows it on the command line.
	NoArgMeansEmpty bool
}

// Required returns a Spec with no default, i.e. a flag that becomes
// mandatory once any selected stage requires it.
func Required(name, shorthand string, typ Type, usage string) Spec {
	return Spec{Name: name, Shorthand: shorthand, Type: typ, Usage: usage}
}

// WithDefault returns a Spec with the given default value.
func WithDefault(name, shorthand string, typ Type, def any, usage string) Spec {
	return Spec{Name: name, Shorthand: shorthand, Type: typ, Default: def, HasDefault: true, Usage: usage}
}
