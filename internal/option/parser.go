package option

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/pflag"
)

// Values wraps a parsed *pflag.FlagSet with typed accessors, handed to stage
// constructors in place of the original implementation's argparse
// Namespace.
type Values struct {
	fs *pflag.FlagSet
}

func (v Values) String(name string) string {
	s, _ := v.fs.GetString(name)
	return s
}

func (v Values) Int(name string) int {
	i, _ := v.fs.GetInt(name)
	return i
}

func (v Values) Bool(name string) bool {
	b, _ := v.fs.GetBool(name)
	return b
}

func (v Values) StringSlice(name string) []string {
	s, _ := v.fs.GetStringSlice(name)
	return s
}

// Changed reports whether name was set explicitly, as opposed to left at
// its default — used after parsing to enforce "no default => required once
// selected" (spec §4.5).
func (v Values) Changed(name string) bool {
	f := v.fs.Lookup(name)
	return f != nil && f.Changed
}

// bind registers every spec onto fs with its declared type and default.
func bind(fs *pflag.FlagSet, specs []Spec) {
	for _, spec := range specs {
		switch spec.Type {
		case TString:
			def, _ := spec.Default.(string)
			fs.StringP(spec.Name, spec.Shorthand, def, spec.Usage)
		case TInt:
			def, _ := spec.Default.(int)
			fs.IntP(spec.Name, spec.Shorthand, def, spec.Usage)
		case TBool:
			def, _ := spec.Default.(bool)
			fs.BoolP(spec.Name, spec.Shorthand, def, spec.Usage)
		case TStringSlice:
			def, _ := spec.Default.([]string)
			fs.StringSliceP(spec.Name, spec.Shorthand, def, spec.Usage)
		}
		if spec.NoArgMeansEmpty {
			fs.Lookup(spec.Name).NoOptDefVal = ""
		}
	}
}

// NewFlagSet builds a pflag.FlagSet exposing exactly specs, the mechanism
// behind both the discovery phase (specs = registry.All() plus the fixed
// core flags) and the method-specific phase (specs = registry.FlagsFor the
// selected stages).
func NewFlagSet(name string, specs []Spec) (*pflag.FlagSet, Values) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	bind(fs, specs)
	return fs, Values{fs: fs}
}

// RequireAfterParse enforces specs with HasDefault=false: once a stage
// requiring a no-default flag is selected, the flag must have been set on
// the command line. Returns a *MissingFlagError naming every flag still
// missing, matching the original's argparse "required" behavior collapsed
// into a single pass.
func RequireAfterParse(values Values, specs []Spec) error {
	var missing []string
	for _, spec := range specs {
		if !spec.HasDefault && !values.Changed(spec.Name) {
			missing = append(missing, spec.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &MissingFlagError{Flags: missing}
	}
	return nil
}

// MissingFlagError reports required flags the selected stages need but the
// operator didn't supply (spec §7 category 3: setup error, exit 2).
type MissingFlagError struct {
	Flags []string
}

func (e *MissingFlagError) Error() string {
	return fmt.Sprintf("missing required flags: %v", e.Flags)
}

// ArgsFromConfigFile loads a JSON object from path and tokenises it into a
// CLI-equivalent argument slice ("--name", "value", ...), satisfying
// invariant 6: "Option.parse of --config FILE is equivalent to parsing the
// tokenised fields of the JSON object as CLI args." Array values become a
// repeated flag, matching action=append semantics; bool true becomes a
// bare "--name" switch.
func ArgsFromConfigFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("option: reading config file: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("option: parsing config file: %w", err)
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var args []string
	for _, name := range names {
		raw := fields[name]

		var asBool bool
		if err := json.Unmarshal(raw, &asBool); err == nil {
			if asBool {
				args = append(args, "--"+name)
			}
			continue
		}

		var asSlice []string
		if err := json.Unmarshal(raw, &asSlice); err == nil {
			for _, v := range asSlice {
				args = append(args, "--"+name, v)
			}
			continue
		}

		var asString string
		if err := json.Unmarshal(raw, &asString); err == nil {
			args = append(args, "--"+name, asString)
			continue
		}

		var asNumber json.Number
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&asNumber); err == nil {
			args = append(args, "--"+name, asNumber.String())
			continue
		}

		return nil, fmt.Errorf("option: unsupported value for %q in config file", name)
	}
	return args, nil
}
