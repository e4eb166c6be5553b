// Command recipe-check validates configuration space roots before a reduction
// consumes them. It builds a registry over the discovered declarations and
// cross-checks the pieces the lazy load path only trips over at bind time:
// recipe indexes must name registered recipes, defaults must appear in their
// type's recipe list, step files must read and compile to at least one step,
// and parameter tables must address a known primitive or recipe.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"reducore/internal/configspace"
	"reducore/internal/core"
	"reducore/primitives/gemini"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("recipe-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var builtin bool
	fs.BoolVar(&builtin, "builtin", true, "merge the compiled-in observatory space before checking")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	roots := fs.Args()
	if len(roots) == 0 {
		roots = configspace.RootsFromEnv()
	}
	if len(roots) == 0 {
		if _, err := fmt.Fprintln(stderr, "recipe-check: at least one configuration root is required"); err != nil {
			return 2
		}
		return 2
	}

	rep, err := run(builtin, roots)
	if err != nil {
		if _, writeErr := fmt.Fprintf(stderr, "Configuration check failed: %v\n", err); writeErr != nil {
			return 1
		}
		return 1
	}
	for _, issue := range rep.issues {
		if _, err := fmt.Fprintf(stdout, "problem: %s\n", issue); err != nil {
			return 1
		}
	}
	if len(rep.issues) > 0 {
		if _, err := fmt.Fprintf(stdout, "%d problem(s) found\n", len(rep.issues)); err != nil {
			return 1
		}
		return 1
	}
	if _, err := fmt.Fprintf(stdout, "Configuration space OK: %d types, %d set bindings, %d recipes.\n",
		rep.types, rep.sets, rep.recipes); err != nil {
		return 1
	}
	return 0
}

// report carries the summary counts and every problem found. Problems are
// findings, not failures: the space loaded, but parts of it can never be
// reached or will fail at bind time.
type report struct {
	types   int
	sets    int
	recipes int
	issues  []string
}

// run discovers the roots, builds a registry over them, and collects every
// cross-reference problem. Discovery and registry construction errors are
// hard failures; everything after is a finding.
func run(builtin bool, roots []string) (report, error) {
	for _, root := range roots {
		if err := validateRoot(root); err != nil {
			return report{}, err
		}
	}
	discovered, err := configspace.Discover(roots...)
	if err != nil {
		return report{}, err
	}
	space := discovered
	factories := map[string]core.SetFactory{}
	if builtin {
		space = configspace.Merge(gemini.Space(), discovered)
		factories = gemini.Factories()
	}
	reg, err := core.NewRegistry(space, factories)
	if err != nil {
		return report{}, err
	}

	rep := report{
		types:   len(reg.Graph().Types()),
		sets:    len(reg.PrimitiveTypes()),
		recipes: len(reg.RecipeKeys()),
	}
	rep.issues = append(rep.issues, checkBindings(reg, space, builtin)...)
	rep.issues = append(rep.issues, checkIndexes(reg, space)...)
	rep.issues = append(rep.issues, checkRecipes(reg, space, builtin)...)
	if builtin {
		rep.issues = append(rep.issues, checkParams(reg, space)...)
	}
	return rep, nil
}

// validateRoot rejects roots the walk would misread: a missing path fails
// late with a confusing error, and a file root would be matched against the
// index masks as if it were a directory entry.
func validateRoot(root string) error {
	if strings.TrimSpace(root) == "" {
		return fmt.Errorf("empty configuration root")
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("configuration root %q: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("configuration root %q is not a directory", root)
	}
	return nil
}

// checkBindings verifies each primitive set binding names a declared type
// and, when the compiled-in factories are loaded, a set implementation the
// engine can actually instantiate.
func checkBindings(reg *core.Registry, space *configspace.Space, withImpl bool) []string {
	var issues []string
	for _, decl := range space.Primitives {
		if !reg.Graph().Known(decl.TypeName) {
			issues = append(issues, fmt.Sprintf(
				"set binding for undeclared type %s (%s)", decl.TypeName, decl.Source))
			continue
		}
		if !withImpl {
			continue
		}
		if _, err := reg.RetrieveReductionObjectForType(context.Background(), decl.TypeName); err != nil {
			issues = append(issues, fmt.Sprintf(
				"type %s binds set %q with no registered implementation (%s)",
				decl.TypeName, decl.SetName, decl.Source))
		}
	}
	return issues
}

// checkIndexes verifies each recipe index entry: the type must be declared,
// every listed recipe must be registered, and the default must both resolve
// and appear in the type's merged recipe list.
func checkIndexes(reg *core.Registry, space *configspace.Space) []string {
	var issues []string
	for _, decl := range space.RecipeIndex {
		if !reg.Graph().Known(decl.TypeName) {
			issues = append(issues, fmt.Sprintf(
				"recipe index for undeclared type %s (%s)", decl.TypeName, decl.Source))
		}
		for _, name := range decl.Recipes {
			if _, ok := reg.LookupRecipe(name, decl.TypeName); !ok {
				issues = append(issues, fmt.Sprintf(
					"recipe index for %s names unregistered recipe %q (%s)",
					decl.TypeName, name, decl.Source))
			}
		}
		if decl.Default == "" {
			continue
		}
		if _, ok := reg.LookupRecipe(decl.Default, decl.TypeName); !ok {
			issues = append(issues, fmt.Sprintf(
				"default recipe %q for %s is not registered (%s)",
				decl.Default, decl.TypeName, decl.Source))
			continue
		}
		if !containsName(reg.RecipesForType(decl.TypeName), decl.Default) {
			issues = append(issues, fmt.Sprintf(
				"default recipe %q for %s is not in its recipe list (%s)",
				decl.Default, decl.TypeName, decl.Source))
		}
	}
	return issues
}

// checkRecipes loads and compiles every recipe declaration. Typed recipes on
// a type with a retrievable set also get their steps resolved the way the
// execution would resolve them, so a typo in a step file surfaces here
// instead of mid-run.
func checkRecipes(reg *core.Registry, space *configspace.Space, withImpl bool) []string {
	var issues []string
	for _, decl := range space.Recipes {
		desc := core.RecipeDescriptor{
			Name:     decl.Name,
			TypeName: decl.TypeName,
			Path:     decl.Path,
			Inline:   decl.Inline,
			Source:   decl.Source,
		}
		text, err := desc.Text()
		if err != nil {
			issues = append(issues, fmt.Sprintf("recipe %s: %v", desc.Key(), err))
			continue
		}
		seq := core.CompileRecipe(decl.Name, text)
		if seq.Len() == 0 {
			issues = append(issues, fmt.Sprintf(
				"recipe %s compiles to no steps (%s)", desc.Key(), decl.Source))
			continue
		}
		if decl.TypeName == "" {
			continue
		}
		if !reg.Graph().Known(decl.TypeName) {
			issues = append(issues, fmt.Sprintf(
				"recipe %q declared for undeclared type %s (%s)",
				decl.Name, decl.TypeName, decl.Source))
			continue
		}
		if !withImpl {
			continue
		}
		ro, err := reg.RetrieveReductionObjectForType(context.Background(), decl.TypeName)
		if err != nil {
			// A type can host recipes without binding its own set; steps then
			// resolve against the dataset's winning type at bind time.
			continue
		}
		for _, step := range seq.Steps() {
			if ro.HasCapability(step) {
				continue
			}
			if _, ok := reg.LookupRecipe(step, decl.TypeName); ok {
				continue
			}
			issues = append(issues, fmt.Sprintf(
				"recipe %s step %q matches no capability or recipe for %s (%s)",
				desc.Key(), step, decl.TypeName, decl.Source))
		}
	}
	return issues
}

// checkParams flags parameter tables addressed to a name no capability and no
// recipe carries. Such entries are never consulted: parameter lookup walks
// the step stack, and a name that cannot appear on it is a silent typo.
func checkParams(reg *core.Registry, space *configspace.Space) []string {
	known := make(map[string]struct{})
	for _, typeName := range reg.PrimitiveTypes() {
		ro, err := reg.RetrieveReductionObjectForType(context.Background(), typeName)
		if err != nil {
			continue
		}
		for _, name := range ro.CapabilityNames() {
			known[name] = struct{}{}
		}
	}
	for _, key := range reg.RecipeKeys() {
		name := key
		if i := strings.Index(key, "."); i > 0 {
			name = key[:i]
		}
		known[name] = struct{}{}
	}
	var issues []string
	for _, decl := range space.Params {
		if _, ok := known[decl.Primitive]; !ok {
			issues = append(issues, fmt.Sprintf(
				"parameters configured for unknown primitive %q (%s)",
				decl.Primitive, decl.Source))
		}
	}
	return issues
}

func containsName(names []string, want string) bool {
	for _, name := range names {
		if name == want {
			return true
		}
	}
	return false
}
