package configspace

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func fixtureRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "types", "typeIndex.gemini.yaml"), `
types:
  - name: GEMINI
  - name: GMOS
    parents: [GEMINI]
    match: ["gmos*"]
  - name: GMOS_IMAGE
    parents: [GMOS]
`)
	writeFile(t, filepath.Join(root, "gmos", "primitivesIndex.gmos.yaml"), `
primitives:
  GMOS_IMAGE: GMOSImagePrimitives
  GMOS: GMOSPrimitives
`)
	writeFile(t, filepath.Join(root, "gmos", "recipeIndex.gmos.yaml"), `
recipes:
  GMOS_IMAGE:
    - makeProcessedFlat
defaults:
  GMOS_IMAGE: makeProcessedFlat
`)
	writeFile(t, filepath.Join(root, "gmos", "primparams.gmos.yaml"), `
parameters:
  prepare:
    suffix: _prepared
`)
	writeFile(t, filepath.Join(root, "gmos", "recipe.makeProcessedFlat"), "prepare\n")
	writeFile(t, filepath.Join(root, "gsaoi", "recipe.makeProcessedDark.GSAOI"), "prepare\nstackDarks\n")
	return root
}

func TestDiscoverRoot(t *testing.T) {
	root := fixtureRoot(t)
	sp, err := DiscoverRoot(root)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(sp.Types) != 3 || sp.Types[2].Name != "GMOS_IMAGE" {
		t.Fatalf("types = %+v", sp.Types)
	}
	if len(sp.Primitives) != 2 {
		t.Fatalf("primitives = %+v", sp.Primitives)
	}
	if sp.Primitives[0].TypeName != "GMOS" || sp.Primitives[0].SetName != "GMOSPrimitives" {
		t.Fatalf("primitive decl = %+v", sp.Primitives[0])
	}
	if sp.Primitives[0].Source == "" {
		t.Fatalf("primitive decl missing source")
	}
	if len(sp.RecipeIndex) != 1 {
		t.Fatalf("recipe index = %+v", sp.RecipeIndex)
	}
	idx := sp.RecipeIndex[0]
	if idx.TypeName != "GMOS_IMAGE" || idx.Default != "makeProcessedFlat" || !reflect.DeepEqual(idx.Recipes, []string{"makeProcessedFlat"}) {
		t.Fatalf("recipe index decl = %+v", idx)
	}
	if len(sp.Params) != 1 || sp.Params[0].Primitive != "prepare" {
		t.Fatalf("params = %+v", sp.Params)
	}
	if got := sp.Params[0].Values["suffix"]; got != "_prepared" {
		t.Fatalf("suffix param = %v", got)
	}
}

func TestDiscoverRecipeFiles(t *testing.T) {
	root := fixtureRoot(t)
	sp, err := DiscoverRoot(root)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(sp.Recipes) != 2 {
		t.Fatalf("recipes = %+v", sp.Recipes)
	}
	byName := map[string]RecipeDecl{}
	for _, r := range sp.Recipes {
		byName[r.Name] = r
	}
	flat, ok := byName["makeProcessedFlat"]
	if !ok || flat.TypeName != "" {
		t.Fatalf("untyped recipe decl = %+v", flat)
	}
	dark, ok := byName["makeProcessedDark"]
	if !ok || dark.TypeName != "GSAOI" {
		t.Fatalf("typed recipe decl = %+v", dark)
	}
	if dark.Path == "" || filepath.Base(dark.Path) != "recipe.makeProcessedDark.GSAOI" {
		t.Fatalf("typed recipe path = %q", dark.Path)
	}
}

func TestDiscoverMergesRootsInOrder(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeFile(t, filepath.Join(first, "primitivesIndex.a.yaml"), "primitives:\n  GMOS: SetA\n")
	writeFile(t, filepath.Join(second, "primitivesIndex.b.yaml"), "primitives:\n  GSAOI: SetB\n")
	sp, err := Discover(first, second)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(sp.Primitives) != 2 {
		t.Fatalf("primitives = %+v", sp.Primitives)
	}
	if sp.Primitives[0].SetName != "SetA" || sp.Primitives[1].SetName != "SetB" {
		t.Fatalf("root order not preserved: %+v", sp.Primitives)
	}
}

func TestDiscoverRejectsBadIndexFiles(t *testing.T) {
	t.Run("unknown field", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "primitivesIndex.x.yaml"), "primitifs:\n  GMOS: SetA\n")
		if _, err := DiscoverRoot(root); err == nil {
			t.Fatalf("expected error for unknown top-level field")
		}
	})
	t.Run("malformed yaml", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "recipeIndex.x.yaml"), "recipes: [unclosed\n")
		if _, err := DiscoverRoot(root); err == nil {
			t.Fatalf("expected parse error")
		}
	})
	t.Run("empty set name", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "primitivesIndex.x.yaml"), "primitives:\n  GMOS: \"\"\n")
		if _, err := DiscoverRoot(root); err == nil {
			t.Fatalf("expected error for empty set name")
		}
	})
	t.Run("empty file tolerated", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "primparams.x.yaml"), "")
		if _, err := DiscoverRoot(root); err != nil {
			t.Fatalf("empty index file should parse: %v", err)
		}
	})
}

func TestDefaultsWithoutRecipeList(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "recipeIndex.x.yaml"), "defaults:\n  GSAOI: makeProcessedDark\n")
	sp, err := DiscoverRoot(root)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(sp.RecipeIndex) != 1 || sp.RecipeIndex[0].Default != "makeProcessedDark" || len(sp.RecipeIndex[0].Recipes) != 0 {
		t.Fatalf("recipe index = %+v", sp.RecipeIndex)
	}
}

func TestRootsFromEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, " /a/recipes : /b/recipes ::")
	got := RootsFromEnv()
	if !reflect.DeepEqual(got, []string{"/a/recipes", "/b/recipes"}) {
		t.Fatalf("roots = %v", got)
	}
	t.Setenv(EnvConfigPath, "")
	if got := RootsFromEnv(); got != nil {
		t.Fatalf("expected nil roots, got %v", got)
	}
}
