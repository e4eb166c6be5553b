package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"reducore/internal/configspace"
	"reducore/pkg/astrotype"
)

// staticSet is a PrimitiveSet assembled from a literal capability map.
type staticSet struct {
	name string
	caps map[string]Capability
}

func (s staticSet) Name() string                        { return s.name }
func (s staticSet) Capabilities() map[string]Capability { return s.caps }

func recordingCapability(log *[]string, name string) Capability {
	return func(_ *ExecutionContext) error {
		*log = append(*log, name)
		return nil
	}
}

// imagingTypes is the classification tree the engine tests run over: GEMINI
// at the root, GMOS imaging below it, GSAOI as an unrelated sibling, NIRI
// declared but served by no factory.
func imagingTypes() []astrotype.Decl {
	return []astrotype.Decl{
		{Name: "GEMINI"},
		{Name: "GMOS", Parents: []string{"GEMINI"}},
		{Name: "GMOS_IMAGE", Parents: []string{"GMOS"}, Match: []string{"*_image.fits"}},
		{Name: "GSAOI", Parents: []string{"GEMINI"}},
		{Name: "NIRI", Parents: []string{"GEMINI"}},
	}
}

func imagingPrimitives() []configspace.PrimitiveDecl {
	return []configspace.PrimitiveDecl{
		{TypeName: "GEMINI", SetName: "gemini", Source: "testfixture"},
		{TypeName: "GMOS_IMAGE", SetName: "gmos_image", Source: "testfixture"},
		{TypeName: "GSAOI", SetName: "gsaoi", Source: "testfixture"},
		{TypeName: "NIRI", SetName: "niri", Source: "testfixture"},
	}
}

func imagingFactories(log *[]string) map[string]SetFactory {
	return map[string]SetFactory{
		"gemini": func() PrimitiveSet {
			return staticSet{name: "gemini", caps: map[string]Capability{
				"prepare":    recordingCapability(log, "prepare"),
				"showInputs": recordingCapability(log, "showInputs"),
			}}
		},
		"gmos_image": func() PrimitiveSet {
			return staticSet{name: "gmos_image", caps: MergeCapabilities(
				map[string]Capability{
					"prepare":    recordingCapability(log, "prepare"),
					"showInputs": recordingCapability(log, "showInputs"),
				},
				map[string]Capability{
					"biasCorrect": recordingCapability(log, "biasCorrect"),
					"flatten":     recordingCapability(log, "flatten"),
				},
			)}
		},
		"gsaoi": func() PrimitiveSet {
			return staticSet{name: "gsaoi", caps: map[string]Capability{
				"prepare":  recordingCapability(log, "prepare"),
				"makeDark": recordingCapability(log, "makeDark"),
			}}
		},
	}
}

// newImagingRegistry builds a registry over the imaging fixture plus any
// extra recipe declarations.
func newImagingRegistry(t *testing.T, log *[]string, recipes ...configspace.RecipeDecl) *Registry {
	t.Helper()
	reg, err := NewRegistry(&configspace.Space{
		Types:      imagingTypes(),
		Primitives: imagingPrimitives(),
		Recipes:    recipes,
	}, imagingFactories(log))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

// writeRecipeDecl materialises recipe text on disk and returns its
// declaration, typed when typeName is non-empty.
func writeRecipeDecl(t *testing.T, name, typeName, text string) configspace.RecipeDecl {
	t.Helper()
	file := "recipe." + name
	if typeName != "" {
		file += "." + typeName
	}
	path := filepath.Join(t.TempDir(), file)
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		t.Fatalf("write recipe file: %v", err)
	}
	return configspace.RecipeDecl{Name: name, TypeName: typeName, Path: path, Source: path}
}

type testDataset struct {
	name  string
	types []string
}

func (d testDataset) Name() string              { return d.name }
func (d testDataset) ApplicableTypes() []string { return d.types }

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	for _, record := range c.ended {
		if record.op == op {
			if success && record.err == nil {
				return true
			}
			if !success && record.err != nil {
				return true
			}
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}
