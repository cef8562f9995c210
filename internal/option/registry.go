package option

import "sort"

// Registry accumulates flag requirements keyed by the declaring stage's
// type name, the Go equivalent of the original implementation's decorator
// that recorded requirements against a stage class.
type Registry struct {
	byStage map[string][]Spec
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byStage: make(map[string][]Spec)}
}

// Require records that stageType needs the given flags. Calling it again
// for the same stageType replaces its requirements, matching a package-init
// table rather than a cumulative decorator.
func (r *Registry) Require(stageType string, specs ...Spec) {
	if _, seen := r.byStage[stageType]; !seen {
		r.order = append(r.order, stageType)
	}
	r.byStage[stageType] = specs
}

// FlagsFor computes the union of flags required by stageTypes, deduplicated
// by flag name. Two stages requiring the same flag name must agree on its
// Spec; the first one registered wins, since in practice shared flags
// (-c, -a, -p, ...) are declared identically everywhere they're needed.
func (r *Registry) FlagsFor(stageTypes []string) []Spec {
	seen := make(map[string]bool)
	var out []Spec
	for _, st := range stageTypes {
		for _, spec := range r.byStage[st] {
			if seen[spec.Name] {
				continue
			}
			seen[spec.Name] = true
			out = append(out, spec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// All returns every flag spec ever registered, deduplicated by name — used
// by the discovery phase, which must accept any flag any stage might need
// before the method's stage subset is known.
func (r *Registry) All() []Spec {
	return r.FlagsFor(r.order)
}
