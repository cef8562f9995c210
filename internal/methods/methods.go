// Package methods holds the named, ordered stage lists a run selects with
// -m, grounded on original_source/methods/simple.py. A Method is just
// metadata plus a stage list; the engine has no notion of "methods" beyond
// what main wires into a Pipeline.
package methods

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/oriys/dg/internal/domain"
)

// Method names one deployment recipe: an ordered, fixed list of stages plus
// the option specs each of those stages requires (registered separately in
// internal/option, keyed by the same stage type names used here).
type Method struct {
	Name        string
	Description string
	Stages      []domain.Stage
}

// Registry holds every known Method, looked up by name for -m.
type Registry struct {
	byName map[string]*Method
	order  []string
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Method)}
}

// Register adds m, panicking on a duplicate name since that is a wiring
// bug caught at startup, not a runtime condition.
func (r *Registry) Register(m *Method) {
	if _, exists := r.byName[m.Name]; exists {
		panic(fmt.Sprintf("methods: duplicate method name %q", m.Name))
	}
	r.byName[m.Name] = m
	r.order = append(r.order, m.Name)
}

// Get looks up a method by name.
func (r *Registry) Get(name string) (*Method, error) {
	m, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown method %q", name)
	}
	return m, nil
}

// Names returns every registered method name, sorted.
func (r *Registry) Names() []string {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// SelectStages parses a -s value list ("NUM" or "LEFT-RIGHT" tokens,
// e.g. ["0", "2-4"]) into the subset of m's fixed stage list those indices
// name, preserving m's order, grounded on common/config.py's
// Option.get_stages. A nil/empty spec selects every stage, matching the
// original's "None means run them all" default.
func SelectStages(m *Method, spec []string) ([]domain.Stage, error) {
	if len(spec) == 0 {
		return m.Stages, nil
	}
	var indices []int
	for _, token := range spec {
		if left, right, ok := strings.Cut(token, "-"); ok {
			lo, err := strconv.Atoi(left)
			if err != nil {
				return nil, fmt.Errorf("methods: malformed stage range %q: %w", token, err)
			}
			hi, err := strconv.Atoi(right)
			if err != nil {
				return nil, fmt.Errorf("methods: malformed stage range %q: %w", token, err)
			}
			for i := lo; i <= hi; i++ {
				indices = append(indices, i)
			}
		} else {
			i, err := strconv.Atoi(token)
			if err != nil {
				return nil, fmt.Errorf("methods: malformed stage index %q: %w", token, err)
			}
			indices = append(indices, i)
		}
	}

	selected := make([]domain.Stage, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(m.Stages) {
			return nil, fmt.Errorf("methods: stage index %d out of range [0, %d)", i, len(m.Stages))
		}
		selected = append(selected, m.Stages[i])
	}
	return selected, nil
}

// StageTypeNames returns the distinct stage type names used by m's stages,
// in stage order, for binding option.Registry.FlagsFor against a selected
// method (spec §4.5 discovery/method-specific two-phase parsing).
func StageTypeNames(m *Method) []string {
	seen := make(map[string]bool, len(m.Stages))
	var names []string
	for _, s := range m.Stages {
		if !seen[s.Name()] {
			seen[s.Name()] = true
			names = append(names, s.Name())
		}
	}
	return names
}
