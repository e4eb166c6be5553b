// Package configspace discovers and parses the configuration space: directory
// trees containing classification type indexes, primitive-set bindings,
// recipe indexes, primitive parameter tables, and recipe step files. The walk
// happens once at load time; declarations come back as plain values for the
// registry to consume, with no registration side effects here.
package configspace

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"reducore/pkg/astrotype"
)

// File name masks recognised by the walk. Index files are YAML; recipe files
// are plain step text named recipe.<name> or recipe.<name>.<TYPE>.
const (
	typeIndexPrefix   = "typeIndex."
	primitdexPrefix   = "primitivesIndex."
	recipeIndexPrefix = "recipeIndex."
	paramsPrefix      = "primparams."
	recipePrefix      = "recipe."
	indexSuffix       = ".yaml"
)

// EnvConfigPath lists configuration roots, colon separated, used when a
// caller supplies none explicitly.
const EnvConfigPath = "REDUCORE_CONFIGPATH"

// PrimitiveDecl binds one classification type to a primitive set name.
type PrimitiveDecl struct {
	TypeName string
	SetName  string
	Source   string
}

// RecipeDecl references one recipe, optionally type qualified. Discovered
// declarations carry the step file in Path; compiled-in sets may supply the
// step text directly in Inline instead.
type RecipeDecl struct {
	Name     string
	TypeName string
	Path     string
	Inline   string
	Source   string
}

// RecipeIndexDecl associates a classification type with the recipe names that
// apply to it, and optionally the default recipe for that type.
type RecipeIndexDecl struct {
	TypeName string
	Recipes  []string
	Default  string
	Source   string
}

// ParamDecl carries configured parameter values for one primitive.
type ParamDecl struct {
	Primitive string
	Values    map[string]any
	Source    string
}

// Space aggregates every declaration discovered across the walked roots, in
// walk order. It is plain data; conflict detection happens in the registry.
type Space struct {
	Types       []astrotype.Decl
	Primitives  []PrimitiveDecl
	Recipes     []RecipeDecl
	RecipeIndex []RecipeIndexDecl
	Params      []ParamDecl
}

// Merge concatenates spaces in order into a new Space.
func Merge(spaces ...*Space) *Space {
	out := &Space{}
	for _, sp := range spaces {
		if sp == nil {
			continue
		}
		out.Types = append(out.Types, sp.Types...)
		out.Primitives = append(out.Primitives, sp.Primitives...)
		out.Recipes = append(out.Recipes, sp.Recipes...)
		out.RecipeIndex = append(out.RecipeIndex, sp.RecipeIndex...)
		out.Params = append(out.Params, sp.Params...)
	}
	return out
}

// RootsFromEnv returns the configuration roots named by EnvConfigPath.
func RootsFromEnv() []string {
	raw := strings.TrimSpace(os.Getenv(EnvConfigPath))
	if raw == "" {
		return nil
	}
	var roots []string
	for _, part := range strings.Split(raw, ":") {
		if part = strings.TrimSpace(part); part != "" {
			roots = append(roots, part)
		}
	}
	return roots
}

// Discover walks every root in order and merges the declarations found.
func Discover(roots ...string) (*Space, error) {
	spaces := make([]*Space, 0, len(roots))
	for _, root := range roots {
		sp, err := DiscoverRoot(root)
		if err != nil {
			return nil, err
		}
		spaces = append(spaces, sp)
	}
	return Merge(spaces...), nil
}

// DiscoverRoot walks one configuration root, parsing every index file and
// collecting every recipe file it encounters.
func DiscoverRoot(root string) (*Space, error) {
	sp := &Space{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		base := d.Name()
		switch {
		case matchesIndex(base, typeIndexPrefix):
			return sp.loadTypeIndex(path)
		case matchesIndex(base, primitdexPrefix):
			return sp.loadPrimitivesIndex(path)
		case matchesIndex(base, recipeIndexPrefix):
			return sp.loadRecipeIndex(path)
		case matchesIndex(base, paramsPrefix):
			return sp.loadParams(path)
		case strings.HasPrefix(base, recipePrefix):
			sp.addRecipeFile(path, base)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk configuration root %q: %w", root, err)
	}
	return sp, nil
}

func matchesIndex(base, prefix string) bool {
	return strings.HasPrefix(base, prefix) && strings.HasSuffix(base, indexSuffix)
}

type typeIndexDoc struct {
	Types []astrotype.Decl `yaml:"types"`
}

func (sp *Space) loadTypeIndex(path string) error {
	var doc typeIndexDoc
	if err := decodeStrict(path, &doc); err != nil {
		return err
	}
	for _, decl := range doc.Types {
		if decl.Name == "" {
			return fmt.Errorf("%s: type declaration with empty name", path)
		}
		sp.Types = append(sp.Types, decl)
	}
	return nil
}

type primitivesIndexDoc struct {
	Primitives map[string]string `yaml:"primitives"`
}

func (sp *Space) loadPrimitivesIndex(path string) error {
	var doc primitivesIndexDoc
	if err := decodeStrict(path, &doc); err != nil {
		return err
	}
	for _, typeName := range sortedKeys(doc.Primitives) {
		setName := doc.Primitives[typeName]
		if setName == "" {
			return fmt.Errorf("%s: empty primitive set for type %q", path, typeName)
		}
		sp.Primitives = append(sp.Primitives, PrimitiveDecl{
			TypeName: typeName,
			SetName:  setName,
			Source:   path,
		})
	}
	return nil
}

type recipeIndexDoc struct {
	Recipes  map[string][]string `yaml:"recipes"`
	Defaults map[string]string   `yaml:"defaults"`
}

func (sp *Space) loadRecipeIndex(path string) error {
	var doc recipeIndexDoc
	if err := decodeStrict(path, &doc); err != nil {
		return err
	}
	seen := make(map[string]*RecipeIndexDecl)
	var order []string
	for _, typeName := range sortedKeys(doc.Recipes) {
		seen[typeName] = &RecipeIndexDecl{
			TypeName: typeName,
			Recipes:  append([]string(nil), doc.Recipes[typeName]...),
			Source:   path,
		}
		order = append(order, typeName)
	}
	for _, typeName := range sortedKeys(doc.Defaults) {
		decl, ok := seen[typeName]
		if !ok {
			decl = &RecipeIndexDecl{TypeName: typeName, Source: path}
			seen[typeName] = decl
			order = append(order, typeName)
		}
		decl.Default = doc.Defaults[typeName]
	}
	for _, typeName := range order {
		sp.RecipeIndex = append(sp.RecipeIndex, *seen[typeName])
	}
	return nil
}

type paramsDoc struct {
	Parameters map[string]map[string]any `yaml:"parameters"`
}

func (sp *Space) loadParams(path string) error {
	var doc paramsDoc
	if err := decodeStrict(path, &doc); err != nil {
		return err
	}
	for _, primitive := range sortedKeys(doc.Parameters) {
		sp.Params = append(sp.Params, ParamDecl{
			Primitive: primitive,
			Values:    doc.Parameters[primitive],
			Source:    path,
		})
	}
	return nil
}

// addRecipeFile registers a recipe step file. The type qualifier, when
// present, is everything after the first dot of the declared name.
func (sp *Space) addRecipeFile(path, base string) {
	declared := strings.TrimPrefix(base, recipePrefix)
	if declared == "" {
		return
	}
	name, typeName := declared, ""
	if i := strings.Index(declared, "."); i > 0 {
		name, typeName = declared[:i], declared[i+1:]
	}
	sp.Recipes = append(sp.Recipes, RecipeDecl{
		Name:     name,
		TypeName: typeName,
		Path:     path,
		Source:   path,
	})
}

// decodeStrict parses one YAML document, rejecting unknown fields. Empty
// files decode to the zero document.
func decodeStrict(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %q: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse %q: %w", path, err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
