package core

import (
	"fmt"
	"os"
	"strings"
)

// RecipeDescriptor references a named recipe's step text, registered either
// under the bare name or under a (name, type) pair. The text is not parsed
// until compilation.
type RecipeDescriptor struct {
	Name     string
	TypeName string
	Path     string
	Inline   string
	Source   string
}

// Key returns the registry key: the bare name, or name dot type when typed.
func (d RecipeDescriptor) Key() string {
	if d.TypeName == "" {
		return d.Name
	}
	return d.Name + "." + d.TypeName
}

// Text loads the recipe step text, from disk when the descriptor carries a
// path, else from the inline buffer.
func (d RecipeDescriptor) Text() (string, error) {
	if d.Path == "" {
		return d.Inline, nil
	}
	raw, err := os.ReadFile(d.Path)
	if err != nil {
		return "", fmt.Errorf("read recipe %q: %w", d.Path, err)
	}
	return string(raw), nil
}

// StepSequence is a compiled recipe: the ordered list of primitive names to
// invoke. Immutable once compiled.
type StepSequence struct {
	name  string
	steps []string
}

// CompileRecipe parses recipe text into a step sequence. Blank lines and
// lines starting with # are skipped; every other line, trimmed, is exactly
// one primitive name. Compilation is pure: identical text always yields an
// equivalent sequence.
func CompileRecipe(name, text string) *StepSequence {
	var steps []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		steps = append(steps, line)
	}
	return &StepSequence{name: name, steps: steps}
}

// Name returns the recipe name the sequence was compiled from.
func (s *StepSequence) Name() string { return s.name }

// Len returns the number of steps.
func (s *StepSequence) Len() int { return len(s.steps) }

// Steps returns a copy of the ordered step names.
func (s *StepSequence) Steps() []string {
	return append([]string(nil), s.steps...)
}

// Step returns the step name at position i.
func (s *StepSequence) Step(i int) string { return s.steps[i] }
