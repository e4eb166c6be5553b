package main

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reducore/internal/runstore"
)

func writeFrame(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("frame"), 0o644); err != nil {
		t.Fatalf("write frame %s: %v", name, err)
	}
	return path
}

func TestCLIReducesGMOSImage(t *testing.T) {
	dir := t.TempDir()
	a := writeFrame(t, dir, "gmosa_image.fits")
	b := writeFrame(t, dir, "gmosb_image.fits")

	var out, errBuf bytes.Buffer
	code := cli([]string{a, b}, &out, &errBuf)
	if code != 0 {
		t.Fatalf("exit code = %d (stderr=%s)", code, errBuf.String())
	}
	got := out.String()
	for _, want := range []string{
		"reducing 2 dataset(s) as GMOS_IMAGE with recipe makeImage",
		"step 1: prepare [RUNNING]",
		"step 6: stackFrames [RUNNING]",
		"RUNNING TIMES",
		"SHOW IO",
		"products: " + filepath.Join(dir, "f_b_g_gmosa_image_stack.fits"),
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestCLIExplicitTypeSkipsClassification(t *testing.T) {
	// With an explicit type the dataset arguments are taken as given and
	// never opened, so plain names that match no pattern work.
	var out, errBuf bytes.Buffer
	code := cli([]string{"-astrotype", "GSAOI", "-recipe", "makeProcessedDark", "dark1.fits", "dark2.fits"}, &out, &errBuf)
	if code != 0 {
		t.Fatalf("exit code = %d (stderr=%s)", code, errBuf.String())
	}
	got := out.String()
	if !strings.Contains(got, "reducing 2 dataset(s) as GSAOI with recipe makeProcessedDark") {
		t.Fatalf("output missing header:\n%s", got)
	}
	if !strings.Contains(got, "products: d_g_dark1_dark.fits") {
		t.Fatalf("output missing stacked dark:\n%s", got)
	}
}

func TestCLIErrors(t *testing.T) {
	t.Run("no datasets", func(t *testing.T) {
		var out, errBuf bytes.Buffer
		if code := cli(nil, &out, &errBuf); code != 2 {
			t.Fatalf("exit code = %d", code)
		}
		if !strings.Contains(errBuf.String(), "at least one dataset") {
			t.Fatalf("stderr = %q", errBuf.String())
		}
	})
	t.Run("bad flag", func(t *testing.T) {
		var out, errBuf bytes.Buffer
		if code := cli([]string{"--no-such-flag"}, &out, &errBuf); code != 2 {
			t.Fatalf("exit code = %d", code)
		}
	})
	t.Run("missing dataset file", func(t *testing.T) {
		var out, errBuf bytes.Buffer
		code := cli([]string{filepath.Join(t.TempDir(), "absent_image.fits")}, &out, &errBuf)
		if code != 1 {
			t.Fatalf("exit code = %d", code)
		}
		if !strings.Contains(errBuf.String(), "Reduction failed") {
			t.Fatalf("stderr = %q", errBuf.String())
		}
	})
	t.Run("unclassifiable dataset", func(t *testing.T) {
		dir := t.TempDir()
		frame := writeFrame(t, dir, "unrelated.txt")
		var out, errBuf bytes.Buffer
		if code := cli([]string{frame}, &out, &errBuf); code != 1 {
			t.Fatalf("exit code = %d", code)
		}
	})
	t.Run("no default recipe for winning type", func(t *testing.T) {
		dir := t.TempDir()
		frame := writeFrame(t, dir, "niri_0001.fits")
		var out, errBuf bytes.Buffer
		if code := cli([]string{frame}, &out, &errBuf); code != 1 {
			t.Fatalf("exit code = %d", code)
		}
		if !strings.Contains(errBuf.String(), "no default declared for GEMINI") {
			t.Fatalf("stderr = %q", errBuf.String())
		}
	})
}

func TestCLIBindsAncestorQualifiedRecipe(t *testing.T) {
	dir := t.TempDir()
	frame := writeFrame(t, dir, "niri_0002.fits")

	var out, errBuf bytes.Buffer
	code := cli([]string{"-recipe", "showFrames", frame}, &out, &errBuf)
	if code != 0 {
		t.Fatalf("exit code = %d (stderr=%s)", code, errBuf.String())
	}
	got := out.String()
	if !strings.Contains(got, "reducing 1 dataset(s) as GEMINI with recipe showFrames") {
		t.Fatalf("output missing header:\n%s", got)
	}
	if !strings.Contains(got, "step 1: showInputs [RUNNING]") {
		t.Fatalf("output missing step line:\n%s", got)
	}
	if !strings.Contains(got, "products: "+frame) {
		t.Fatalf("inputs must pass through unchanged:\n%s", got)
	}
}

func TestCLIDiscoveredRecipeAndTrace(t *testing.T) {
	dir := t.TempDir()
	frame := writeFrame(t, dir, "gmosc_image.fits")

	root := filepath.Join(dir, "config")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir config root: %v", err)
	}
	recipePath := filepath.Join(root, "recipe.quickLook.GMOS_IMAGE")
	if err := os.WriteFile(recipePath, []byte("prepare\nshowInputs\n"), 0o644); err != nil {
		t.Fatalf("write recipe: %v", err)
	}
	tracePath := filepath.Join(dir, "trace.jsonl")

	var out, errBuf bytes.Buffer
	code := cli([]string{"-config", root, "-recipe", "quickLook", "-trace", tracePath, frame}, &out, &errBuf)
	if code != 0 {
		t.Fatalf("exit code = %d (stderr=%s)", code, errBuf.String())
	}
	got := out.String()
	if !strings.Contains(got, "with recipe quickLook") {
		t.Fatalf("output missing recipe header:\n%s", got)
	}
	if !strings.Contains(got, "step 2: showInputs [RUNNING]") {
		t.Fatalf("output missing discovered step:\n%s", got)
	}

	trace, err := os.ReadFile(tracePath)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	if !strings.Contains(string(trace), `"operation":"primitive:prepare"`) {
		t.Fatalf("trace missing primitive span:\n%s", trace)
	}
}

func TestCLIResolvesCalibrationsFromManifest(t *testing.T) {
	dir := t.TempDir()
	frame := writeFrame(t, dir, "gmosd_image.fits")

	biasFile := filepath.Join(dir, "bias.fits")
	if err := os.WriteFile(biasFile, []byte("BIASDATA"), 0o644); err != nil {
		t.Fatalf("write bias: %v", err)
	}
	biasSum := fmt.Sprintf("%x", md5.Sum([]byte("BIASDATA")))

	// Requests are keyed by the chained reference at request time.
	biasRef := filepath.Join(dir, "g_gmosd_image.fits")
	manifest := filepath.Join(dir, "cals.yaml")
	content := fmt.Sprintf(
		"calibrations:\n  - dataset: %s\n    caltype: processed_bias\n    url: %s\n    md5: %s\n",
		biasRef, biasFile, biasSum,
	)
	if err := os.WriteFile(manifest, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	t.Setenv("REDUCORE_BLOB_DRIVER", "memory")

	var out, errBuf bytes.Buffer
	code := cli([]string{"-calibrations", manifest, frame}, &out, &errBuf)
	if code != 0 {
		t.Fatalf("exit code = %d (stderr=%s)", code, errBuf.String())
	}
	got := out.String()
	if !strings.Contains(got, "calibration processed_bias for "+biasRef+": fetched processed_bias/bias.fits") {
		t.Fatalf("output missing fetched resolution:\n%s", got)
	}
	if !strings.Contains(got, "missing") {
		t.Fatalf("flat request should be reported missing:\n%s", got)
	}
}

func TestCLIPersistsRun(t *testing.T) {
	dir := t.TempDir()
	frame := writeFrame(t, dir, "gmose_image.fits")
	dbPath := filepath.Join(dir, "runs.db")

	probe, err := runstore.NewSQLite(dbPath)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if err := probe.Close(); err != nil {
		t.Fatalf("close probe: %v", err)
	}
	t.Setenv("REDUCORE_STORAGE_DRIVER", "sqlite")
	t.Setenv("REDUCORE_SQLITE_PATH", dbPath)

	var out, errBuf bytes.Buffer
	code := cli([]string{"-persist", frame}, &out, &errBuf)
	if code != 0 {
		t.Fatalf("exit code = %d (stderr=%s)", code, errBuf.String())
	}
	if !strings.Contains(out.String(), "persisted (FINISHED)") {
		t.Fatalf("output missing persistence line:\n%s", out.String())
	}

	store, err := runstore.NewSQLite(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	}()
	runs, err := store.ListRuns(context.Background())
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	if runs[0].Recipe != "makeImage" || runs[0].Status != "FINISHED" {
		t.Fatalf("persisted run = %+v", runs[0])
	}
}

func TestMainFunction(t *testing.T) {
	origExit := exitFunc
	defer func() { exitFunc = origExit }()
	exitCode := -1
	exitFunc = func(code int) { exitCode = code }
	origArgs := os.Args
	defer func() { os.Args = origArgs }()

	os.Args = []string{"reduce", "-astrotype", "GSAOI", "-recipe", "showInputs", "dark9.fits"}
	main()
	if exitCode != 0 {
		t.Fatalf("exit code = %d", exitCode)
	}
}
