package core

import "sort"

// Capability is a single invocable primitive behavior. The engine treats the
// invocation as an opaque blocking call; the body reads and writes pipeline
// state only through the context.
type Capability func(rc *ExecutionContext) error

// PrimitiveSet supplies the native capabilities for one classification type
// family. Sets compose structurally: a specialized set builds its capability
// map on top of its base set's map.
type PrimitiveSet interface {
	// Name identifies the set, matching the primitive-index declarations.
	Name() string
	// Capabilities returns the callable primitives keyed by name.
	Capabilities() map[string]Capability
}

// SetFactory constructs a fresh primitive set instance for one execution.
type SetFactory func() PrimitiveSet

// MergeCapabilities flattens capability maps in order, later maps overriding
// earlier ones. Used by specialized sets to compose on a base set.
func MergeCapabilities(maps ...map[string]Capability) map[string]Capability {
	out := make(map[string]Capability)
	for _, m := range maps {
		for name, capability := range m {
			if capability == nil {
				continue
			}
			out[name] = capability
		}
	}
	return out
}

// ReductionObject is the per-execution polymorphic instance: a type's native
// primitive capabilities plus the recipes bound for this run. Bindings are
// per instance; two objects of the same type share nothing at run time.
type ReductionObject struct {
	typeName string
	setName  string
	native   map[string]Capability
	bound    map[string]*StepSequence
}

// NewReductionObject composes a primitive set's capabilities onto a fresh
// object for the given winning type.
func NewReductionObject(typeName string, set PrimitiveSet) *ReductionObject {
	native := make(map[string]Capability)
	for name, capability := range set.Capabilities() {
		if capability == nil {
			continue
		}
		native[name] = capability
	}
	return &ReductionObject{
		typeName: typeName,
		setName:  set.Name(),
		native:   native,
		bound:    make(map[string]*StepSequence),
	}
}

// TypeName returns the winning classification type this object was built for.
func (ro *ReductionObject) TypeName() string { return ro.typeName }

// SetName returns the primitive set the object was composed from.
func (ro *ReductionObject) SetName() string { return ro.setName }

// CapabilityNames lists the native primitives, sorted.
func (ro *ReductionObject) CapabilityNames() []string {
	out := make([]string, 0, len(ro.native))
	for name := range ro.native {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// BoundRecipes lists the recipes bound on this instance, sorted.
func (ro *ReductionObject) BoundRecipes() []string {
	out := make([]string, 0, len(ro.bound))
	for name := range ro.bound {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasCapability reports whether the object exposes the name natively.
func (ro *ReductionObject) HasCapability(name string) bool {
	_, ok := ro.native[name]
	return ok
}

// IsBound reports whether a recipe is bound under the name on this instance.
func (ro *ReductionObject) IsBound(name string) bool {
	_, ok := ro.bound[name]
	return ok
}

// Satisfies reports whether the name resolves at all, natively or bound.
func (ro *ReductionObject) Satisfies(name string) bool {
	return ro.HasCapability(name) || ro.IsBound(name)
}

// Bind installs a compiled sequence under the recipe name in this instance's
// dispatch table. Native capabilities take precedence: binding over one is a
// no-op reported as already satisfied. Rebinding a recipe name overwrites.
func (ro *ReductionObject) Bind(name string, seq *StepSequence) BindResult {
	if ro.HasCapability(name) {
		return BindAlreadySatisfied
	}
	ro.bound[name] = seq
	return BindCompleted
}

// resolve looks a step name up in dispatch order: native capability first,
// then bound recipe.
func (ro *ReductionObject) resolve(name string) (Capability, *StepSequence, bool) {
	if capability, ok := ro.native[name]; ok {
		return capability, nil, true
	}
	if seq, ok := ro.bound[name]; ok {
		return nil, seq, true
	}
	return nil, nil, false
}
