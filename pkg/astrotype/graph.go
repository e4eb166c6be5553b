// Package astrotype models the classification type space for reduction
// datasets: a directed acyclic graph of named types with precomputed ancestor
// sets so subtype checks cost one map lookup.
package astrotype

import (
	"fmt"
	"path"
	"sort"
)

// Decl declares a single classification type: its name, the parent types it
// specializes, and optional filename patterns used by name-based classification.
type Decl struct {
	Name    string   `yaml:"name" json:"name"`
	Parents []string `yaml:"parents,omitempty" json:"parents,omitempty"`
	Match   []string `yaml:"match,omitempty" json:"match,omitempty"`
}

// Graph is an immutable classification type DAG. Build one with NewGraph;
// the zero value knows no types.
type Graph struct {
	order     []string
	parents   map[string][]string
	match     map[string][]string
	ancestors map[string]map[string]struct{}
}

// DuplicateTypeError reports a type name declared more than once.
type DuplicateTypeError struct {
	Type string
}

func (e DuplicateTypeError) Error() string {
	return fmt.Sprintf("classification type %q declared twice", e.Type)
}

// UnknownParentError reports a declaration referencing a parent that was never declared.
type UnknownParentError struct {
	Type   string
	Parent string
}

func (e UnknownParentError) Error() string {
	return fmt.Sprintf("classification type %q names unknown parent %q", e.Type, e.Parent)
}

// CycleError reports a parent chain that loops back on itself.
type CycleError struct {
	Type string
}

func (e CycleError) Error() string {
	return fmt.Sprintf("classification type %q participates in a parent cycle", e.Type)
}

// NewGraph validates the declarations and precomputes the ancestor set of
// every type. Declaration order is preserved for deterministic listings.
func NewGraph(decls []Decl) (*Graph, error) {
	g := &Graph{
		parents:   make(map[string][]string, len(decls)),
		match:     make(map[string][]string, len(decls)),
		ancestors: make(map[string]map[string]struct{}, len(decls)),
	}
	for _, decl := range decls {
		if decl.Name == "" {
			return nil, fmt.Errorf("classification type with empty name")
		}
		if _, ok := g.parents[decl.Name]; ok {
			return nil, DuplicateTypeError{Type: decl.Name}
		}
		g.order = append(g.order, decl.Name)
		g.parents[decl.Name] = append([]string(nil), decl.Parents...)
		if len(decl.Match) > 0 {
			g.match[decl.Name] = append([]string(nil), decl.Match...)
		}
	}
	for _, name := range g.order {
		for _, parent := range g.parents[name] {
			if _, ok := g.parents[parent]; !ok {
				return nil, UnknownParentError{Type: name, Parent: parent}
			}
		}
	}
	state := make(map[string]int, len(g.order))
	for _, name := range g.order {
		if err := g.close(name, state); err != nil {
			return nil, err
		}
	}
	return g, nil
}

const (
	visitInProgress = 1
	visitDone       = 2
)

func (g *Graph) close(name string, state map[string]int) error {
	switch state[name] {
	case visitDone:
		return nil
	case visitInProgress:
		return CycleError{Type: name}
	}
	state[name] = visitInProgress
	set := make(map[string]struct{})
	for _, parent := range g.parents[name] {
		if err := g.close(parent, state); err != nil {
			return err
		}
		set[parent] = struct{}{}
		for grand := range g.ancestors[parent] {
			set[grand] = struct{}{}
		}
	}
	g.ancestors[name] = set
	state[name] = visitDone
	return nil
}

// Known reports whether the type was declared.
func (g *Graph) Known(name string) bool {
	_, ok := g.parents[name]
	return ok
}

// Types lists every declared type in declaration order.
func (g *Graph) Types() []string {
	return append([]string(nil), g.order...)
}

// Parents returns the declared direct parents of the type.
func (g *Graph) Parents(name string) []string {
	return append([]string(nil), g.parents[name]...)
}

// Ancestors returns every transitive parent of the type, sorted by name.
func (g *Graph) Ancestors(name string) []string {
	set, ok := g.ancestors[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for ancestor := range set {
		out = append(out, ancestor)
	}
	sort.Strings(out)
	return out
}

// IsSubtypeOf reports whether sub is ancestor itself or one of its
// specializations. Unknown types are subtypes of nothing.
func (g *Graph) IsSubtypeOf(sub, ancestor string) bool {
	set, ok := g.ancestors[sub]
	if !ok {
		return false
	}
	if sub == ancestor {
		return true
	}
	_, ok = set[ancestor]
	return ok
}

// Classify matches a dataset name against the declared filename patterns and
// returns the applicable types, most specific first. Specificity is the size
// of the ancestor set; ties keep declaration order.
func (g *Graph) Classify(datasetName string) []string {
	base := path.Base(datasetName)
	var hits []string
	for _, name := range g.order {
		for _, pattern := range g.match[name] {
			ok, err := path.Match(pattern, base)
			if err != nil {
				continue
			}
			if ok {
				hits = append(hits, name)
				break
			}
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return len(g.ancestors[hits[i]]) > len(g.ancestors[hits[j]])
	})
	return hits
}

// ClassifyFull returns the applicable types for the dataset name including
// the ancestor closure of every pattern match, most specific first. A frame
// matching a leaf pattern is an instance of the leaf's whole parent chain,
// so datasets report the closure rather than the raw matches.
func (g *Graph) ClassifyFull(datasetName string) []string {
	hits := g.Classify(datasetName)
	if len(hits) == 0 {
		return nil
	}
	set := make(map[string]struct{}, 2*len(hits))
	for _, name := range hits {
		set[name] = struct{}{}
		for ancestor := range g.ancestors[name] {
			set[ancestor] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for _, name := range g.order {
		if _, ok := set[name]; ok {
			out = append(out, name)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len(g.ancestors[out[i]]) > len(g.ancestors[out[j]])
	})
	return out
}
