// Package core implements the recipe execution engine: a classification type
// registry built once from a configuration space, subtype-precedence conflict
// resolution, recipe compilation into step sequences, per-instance dispatch
// binding, and a pausable cooperative execution protocol with timestamped
// step history.
package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"reducore/internal/configspace"
	"reducore/pkg/astrotype"
)

// PrimitiveSetDescriptor binds one classification type to the primitive set
// implementing it. At most one descriptor exists per type.
type PrimitiveSetDescriptor struct {
	TypeName string
	SetName  string
	Source   string
}

// Registry maps classification types to primitive set descriptors and recipe
// descriptors. It is built exactly once per process by Load (or NewRegistry)
// and is read-only afterwards; re-scanning the configuration space requires
// constructing a new registry.
type Registry struct {
	graph       *astrotype.Graph
	primitives  map[string]PrimitiveSetDescriptor
	recipes     map[string]RecipeDescriptor
	recipeIndex map[string][]string
	defaults    map[string]string
	params      map[string]map[string]any
	factories   map[string]SetFactory
	loadLog     *LoadTimeLog
	metrics     MetricsRecorder
	tracer      Tracer
}

// RegistryOption customises registry construction.
type RegistryOption func(*Registry)

// WithMetricsRecorder wires an observability recorder into registry and
// execution operations.
func WithMetricsRecorder(metrics MetricsRecorder) RegistryOption {
	return func(r *Registry) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// WithTracer wires a tracer into execution operations.
func WithTracer(tracer Tracer) RegistryOption {
	return func(r *Registry) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

func withLoadTimeLog(log *LoadTimeLog) RegistryOption {
	return func(r *Registry) {
		if log != nil {
			r.loadLog = log
		}
	}
}

// Load walks the configuration roots and builds the registry from every
// declaration found, recording per-root load times. Fatal configuration
// conflicts abort the load; the engine must not serve executions without a
// registry.
func Load(ctx context.Context, roots []string, factories map[string]SetFactory, opts ...RegistryOption) (*Registry, error) {
	started := time.Now().UTC()
	log := NewLoadTimeLog()
	spaces := make([]*configspace.Space, 0, len(roots))
	for _, root := range roots {
		rootStart := time.Now().UTC()
		sp, err := configspace.DiscoverRoot(root)
		log.Observe("CONFIG: "+root, rootStart, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		spaces = append(spaces, sp)
	}
	reg, err := NewRegistry(configspace.Merge(spaces...), factories, append(opts, withLoadTimeLog(log))...)
	if reg != nil {
		reg.metrics.Observe(ctx, "registry_load", err == nil, time.Since(started))
	}
	return reg, err
}

// NewRegistry builds a registry from an already-discovered configuration
// space. Duplicate primitive bindings for a type are fatal unless identical;
// recipe-index lists are unioned; later recipe registrations of the same key
// overwrite earlier ones.
func NewRegistry(space *configspace.Space, factories map[string]SetFactory, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		primitives:  make(map[string]PrimitiveSetDescriptor),
		recipes:     make(map[string]RecipeDescriptor),
		recipeIndex: make(map[string][]string),
		defaults:    make(map[string]string),
		params:      make(map[string]map[string]any),
		factories:   make(map[string]SetFactory, len(factories)),
		loadLog:     NewLoadTimeLog(),
		metrics:     noopMetrics{},
		tracer:      noopTracer{},
	}
	for _, opt := range opts {
		opt(r)
	}
	for name, factory := range factories {
		r.factories[name] = factory
	}
	if space == nil {
		space = &configspace.Space{}
	}

	graph, err := astrotype.NewGraph(space.Types)
	if err != nil {
		return nil, fmt.Errorf("classification types: %w", err)
	}
	r.graph = graph

	for _, decl := range space.Primitives {
		existing, ok := r.primitives[decl.TypeName]
		if ok {
			if existing.SetName == decl.SetName {
				continue
			}
			return nil, ConfigurationConflictError{
				TypeName:       decl.TypeName,
				Existing:       existing.SetName,
				ExistingSource: existing.Source,
				Incoming:       decl.SetName,
				IncomingSource: decl.Source,
			}
		}
		r.primitives[decl.TypeName] = PrimitiveSetDescriptor(decl)
	}

	for _, decl := range space.Recipes {
		desc := RecipeDescriptor{
			Name:     decl.Name,
			TypeName: decl.TypeName,
			Path:     decl.Path,
			Inline:   decl.Inline,
			Source:   decl.Source,
		}
		r.recipes[desc.Key()] = desc
	}

	for _, decl := range space.RecipeIndex {
		r.recipeIndex[decl.TypeName] = unionNames(r.recipeIndex[decl.TypeName], decl.Recipes)
		if decl.Default != "" {
			r.defaults[decl.TypeName] = decl.Default
		}
	}

	for _, decl := range space.Params {
		vals, ok := r.params[decl.Primitive]
		if !ok {
			vals = make(map[string]any, len(decl.Values))
			r.params[decl.Primitive] = vals
		}
		for k, v := range decl.Values {
			vals[k] = v
		}
	}
	return r, nil
}

func unionNames(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		seen[name] = struct{}{}
	}
	for _, name := range incoming {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		existing = append(existing, name)
	}
	return existing
}

// Graph returns the classification type DAG the registry was built over.
func (r *Registry) Graph() *astrotype.Graph { return r.graph }

// LookupPrimitiveSet returns the descriptor registered for the type. Absence
// is a normal negative result.
func (r *Registry) LookupPrimitiveSet(typeName string) (PrimitiveSetDescriptor, bool) {
	desc, ok := r.primitives[typeName]
	return desc, ok
}

// PrimitiveTypes lists every type with a registered primitive set, sorted.
func (r *Registry) PrimitiveTypes() []string {
	out := make([]string, 0, len(r.primitives))
	for typeName := range r.primitives {
		out = append(out, typeName)
	}
	sort.Strings(out)
	return out
}

// LookupRecipe returns the typed entry when registered, else the untyped
// default, else a negative result. Absence of a recipe is not an error.
func (r *Registry) LookupRecipe(name, typeName string) (RecipeDescriptor, bool) {
	if typeName != "" {
		if desc, ok := r.recipes[name+"."+typeName]; ok {
			return desc, true
		}
	}
	desc, ok := r.recipes[name]
	return desc, ok
}

// RecipeKeys lists every registered recipe key, sorted.
func (r *Registry) RecipeKeys() []string {
	out := make([]string, 0, len(r.recipes))
	for key := range r.recipes {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// RecipesForType returns the recipe names the recipe indexes associate with
// the type.
func (r *Registry) RecipesForType(typeName string) []string {
	return append([]string(nil), r.recipeIndex[typeName]...)
}

// DefaultRecipe returns the default recipe name declared for the type.
func (r *Registry) DefaultRecipe(typeName string) (string, bool) {
	name, ok := r.defaults[typeName]
	return name, ok
}

// ApplicableRecipes returns the union of recipe names declared for every type
// applicable to the dataset, preserving type order then declaration order.
func (r *Registry) ApplicableRecipes(types []string) []string {
	var out []string
	for _, typeName := range types {
		out = unionNames(out, r.recipeIndex[typeName])
	}
	return out
}

// CollateApplicableRecipes groups the applicable recipe names by the type
// that declared them, omitting types with none.
func (r *Registry) CollateApplicableRecipes(types []string) map[string][]string {
	out := make(map[string][]string)
	for _, typeName := range types {
		if names := r.recipeIndex[typeName]; len(names) > 0 {
			out[typeName] = append([]string(nil), names...)
		}
	}
	return out
}

// Params returns a copy of every configured primitive parameter map, shaped
// for context construction.
func (r *Registry) Params() map[string]map[string]any {
	return cloneParams(r.params)
}

// ParamsFor returns a copy of the configured parameters for one primitive.
func (r *Registry) ParamsFor(primitive string) map[string]any {
	vals, ok := r.params[primitive]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(vals))
	for k, v := range vals {
		out[k] = v
	}
	return out
}

// LoadTimes returns the load-time telemetry recorded so far.
func (r *Registry) LoadTimes() []LoadTime { return r.loadLog.Entries() }

// LoadTimeReport renders the load-time telemetry as text.
func (r *Registry) LoadTimeReport() string { return r.loadLog.Report() }

// RetrieveReductionObjectForType builds a reduction object for an explicit
// classification type, composing the registered primitive set onto it.
func (r *Registry) RetrieveReductionObjectForType(ctx context.Context, typeName string) (*ReductionObject, error) {
	started := time.Now().UTC()
	ro, err := r.buildReductionObject(typeName, "TYPE: "+typeName)
	r.metrics.Observe(ctx, "retrieve_reduction_object", err == nil, time.Since(started))
	return ro, err
}

// RetrieveReductionObject resolves the dataset's applicable types to one
// winning type and builds the reduction object for it.
func (r *Registry) RetrieveReductionObject(ctx context.Context, ds Dataset) (*ReductionObject, error) {
	started := time.Now().UTC()
	ro, err := r.retrieveForDataset(ds)
	r.metrics.Observe(ctx, "retrieve_reduction_object", err == nil, time.Since(started))
	return ro, err
}

func (r *Registry) retrieveForDataset(ds Dataset) (*ReductionObject, error) {
	winner, err := r.ResolveType(ds.ApplicableTypes())
	if err != nil {
		return nil, err
	}
	return r.buildReductionObject(winner, "FILE: "+ds.Name())
}

func (r *Registry) buildReductionObject(typeName, source string) (*ReductionObject, error) {
	desc, ok := r.primitives[typeName]
	if !ok {
		return nil, NoApplicableSetError{Candidates: []string{typeName}}
	}
	factory, ok := r.factories[desc.SetName]
	if !ok {
		return nil, UnknownPrimitiveSetError{SetName: desc.SetName, TypeName: typeName}
	}
	started := time.Now().UTC()
	ro := NewReductionObject(typeName, factory())
	r.loadLog.Observe(source, started, time.Now().UTC())
	return ro, nil
}

// LoadAndBindRecipe looks the recipe up for an explicit type, compiles it,
// and binds it onto the reduction object.
func (r *Registry) LoadAndBindRecipe(ctx context.Context, ro *ReductionObject, name, typeName string) (BindResult, error) {
	started := time.Now().UTC()
	result, err := r.bindRecipe(ro, name, typeName)
	r.metrics.Observe(ctx, "bind_recipe", err == nil, time.Since(started))
	return result, err
}

func (r *Registry) bindRecipe(ro *ReductionObject, name, typeName string) (BindResult, error) {
	desc, ok := r.LookupRecipe(name, typeName)
	if !ok {
		return "", UnknownRecipeError{Name: name, TypeName: typeName}
	}
	text, err := desc.Text()
	if err != nil {
		return "", err
	}
	return ro.Bind(name, CompileRecipe(name, text)), nil
}

// LoadAndBindRecipeForDataset binds the recipe for every type applicable to
// the dataset that declares one, later types overwriting earlier bindings.
func (r *Registry) LoadAndBindRecipeForDataset(ctx context.Context, ro *ReductionObject, name string, ds Dataset) (BindResult, error) {
	started := time.Now().UTC()
	result, err := r.bindRecipeForTypes(ro, name, ds.ApplicableTypes())
	r.metrics.Observe(ctx, "bind_recipe", err == nil, time.Since(started))
	return result, err
}

func (r *Registry) bindRecipeForTypes(ro *ReductionObject, name string, types []string) (BindResult, error) {
	var result BindResult
	found := false
	for _, typeName := range types {
		desc, ok := r.LookupRecipe(name, typeName)
		if !ok {
			continue
		}
		text, err := desc.Text()
		if err != nil {
			return "", err
		}
		result = ro.Bind(name, CompileRecipe(name, text))
		found = true
	}
	if !found {
		return "", UnknownRecipeError{Name: name}
	}
	return result, nil
}

// EnsureBound makes the name invocable on the object: already satisfied when
// it resolves natively or is bound, otherwise looked up for the type and
// bound now.
func (r *Registry) EnsureBound(ctx context.Context, ro *ReductionObject, name, typeName string) (BindResult, error) {
	if ro.Satisfies(name) {
		return BindAlreadySatisfied, nil
	}
	return r.LoadAndBindRecipe(ctx, ro, name, typeName)
}

// Dataset is the engine-side view of the dataset collaborator: a name and
// the ordered classification types that apply.
type Dataset interface {
	Name() string
	ApplicableTypes() []string
}
