// Package gemini ships the compiled-in reference primitive sets for the
// Gemini imaging instruments. It contributes a configuration space fragment
// (classification types, primitive-set bindings, inline recipes, parameter
// defaults) plus the set factories that implement it, so an embedding
// application can reduce GMOS imaging and GSAOI dark frames without any
// on-disk configuration.
//
// The capability bodies are deliberately thin: each one reads and writes
// pipeline state only through the execution context, deriving output
// references from input names. They stand in for instrument science while
// exercising the full engine surface (output chaining, parameters,
// calibration requests and lookups, recipe composition).
package gemini

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"reducore/internal/configspace"
	"reducore/internal/core"
	"reducore/pkg/astrotype"
)

// Primitive set names, matching the primitive-index declarations in Space.
const (
	SetGemini    = "gemini"
	SetGMOSImage = "gmos_image"
	SetGSAOI     = "gsaoi"
)

// Classification type names declared by Space.
const (
	TypeGemini    = "GEMINI"
	TypeGMOS      = "GMOS"
	TypeGMOSImage = "GMOS_IMAGE"
	TypeGMOSSpect = "GMOS_SPECT"
	TypeGSAOI     = "GSAOI"
	TypeNIRI      = "NIRI"
)

// Calibration types requested and recorded by the reference sets.
const (
	CalProcessedBias = "processed_bias"
	CalProcessedFlat = "processed_flat"
	CalProcessedDark = "processed_dark"
)

// declSource labels every declaration contributed by this package, so
// conflict reports can distinguish builtin declarations from discovered
// configuration files.
const declSource = "builtin:gemini"

// Recipe step texts compiled into Space. The texts use the same line format
// as discovered recipe files, comments included.
const (
	makeImageSteps = `# GMOS imaging chain: prepare, correct, stack.
prepare
getProcessedBias
biasCorrect
getProcessedFlat
flatCorrect
stackFrames
`
	makeProcessedDarkSteps = `# GSAOI dark chain producing a processed dark.
prepare
makeDark
stackDarks
storeProcessedDark
`
	showFramesSteps = `showInputs
`
)

// Space returns the configuration space fragment for the Gemini reference
// sets. Callers merge it with discovered configuration via configspace.Merge;
// discovered declarations then take part in the usual conflict detection.
func Space() *configspace.Space {
	return &configspace.Space{
		Types: []astrotype.Decl{
			{Name: TypeGemini},
			{Name: TypeGMOS, Parents: []string{TypeGemini}, Match: []string{"gmos*.fits"}},
			{Name: TypeGMOSImage, Parents: []string{TypeGMOS}, Match: []string{"gmos*_image.fits"}},
			{Name: TypeGMOSSpect, Parents: []string{TypeGMOS}, Match: []string{"gmos*_spect.fits"}},
			{Name: TypeGSAOI, Parents: []string{TypeGemini}, Match: []string{"gsaoi*.fits"}},
			{Name: TypeNIRI, Parents: []string{TypeGemini}, Match: []string{"niri*.fits"}},
		},
		Primitives: []configspace.PrimitiveDecl{
			{TypeName: TypeGemini, SetName: SetGemini, Source: declSource},
			{TypeName: TypeGMOSImage, SetName: SetGMOSImage, Source: declSource},
			{TypeName: TypeGSAOI, SetName: SetGSAOI, Source: declSource},
		},
		Recipes: []configspace.RecipeDecl{
			{Name: "makeImage", TypeName: TypeGMOSImage, Inline: makeImageSteps, Source: declSource},
			{Name: "makeProcessedDark", TypeName: TypeGSAOI, Inline: makeProcessedDarkSteps, Source: declSource},
			{Name: "showFrames", TypeName: TypeGemini, Inline: showFramesSteps, Source: declSource},
		},
		RecipeIndex: []configspace.RecipeIndexDecl{
			{TypeName: TypeGMOSImage, Recipes: []string{"makeImage"}, Default: "makeImage", Source: declSource},
			{TypeName: TypeGSAOI, Recipes: []string{"makeProcessedDark"}, Default: "makeProcessedDark", Source: declSource},
			{TypeName: TypeGemini, Recipes: []string{"showFrames"}, Source: declSource},
		},
		Params: []configspace.ParamDecl{
			{Primitive: "biasCorrect", Values: map[string]any{"prefix": "b_"}, Source: declSource},
			{Primitive: "flatCorrect", Values: map[string]any{"prefix": "f_"}, Source: declSource},
			{Primitive: "makeDark", Values: map[string]any{"prefix": "d_"}, Source: declSource},
		},
	}
}

// Factories returns the set factories implementing the primitive-set names
// declared by Space. The map is fresh on every call.
func Factories() map[string]core.SetFactory {
	return map[string]core.SetFactory{
		SetGemini:    func() core.PrimitiveSet { return geminiSet() },
		SetGMOSImage: func() core.PrimitiveSet { return gmosImageSet() },
		SetGSAOI:     func() core.PrimitiveSet { return gsaoiSet() },
	}
}

type set struct {
	name string
	caps map[string]core.Capability
}

func (s set) Name() string { return s.name }

func (s set) Capabilities() map[string]core.Capability { return s.caps }

func geminiSet() core.PrimitiveSet {
	return set{name: SetGemini, caps: baseCapabilities()}
}

func gmosImageSet() core.PrimitiveSet {
	return set{name: SetGMOSImage, caps: core.MergeCapabilities(baseCapabilities(), map[string]core.Capability{
		"getProcessedBias": requestCalibrations(CalProcessedBias),
		"getProcessedFlat": requestCalibrations(CalProcessedFlat),
		"biasCorrect":      prefixFrames("b_"),
		"flatCorrect":      prefixFrames("f_"),
		"stackFrames":      stackInto("_stack"),
	})}
}

func gsaoiSet() core.PrimitiveSet {
	return set{name: SetGSAOI, caps: core.MergeCapabilities(baseCapabilities(), map[string]core.Capability{
		"makeDark":           prefixFrames("d_"),
		"stackDarks":         stackInto("_dark"),
		"storeProcessedDark": storeProcessedDark,
	})}
}

func baseCapabilities() map[string]core.Capability {
	return map[string]core.Capability{
		"prepare":      prefixFrames("g_"),
		"showInputs":   showInputs,
		"validateData": validateData,
	}
}

// prefixFrames derives one output per input frame by prefixing the base
// name. The prefix parameter, when configured for the step, overrides the
// fallback.
func prefixFrames(fallback string) core.Capability {
	return func(rc *core.ExecutionContext) error {
		rc.ReportOutput(rc.PrependNames(paramString(rc, "prefix", fallback))...)
		return nil
	}
}

// requestCalibrations enqueues one calibration request of the given type per
// current input. Resolution is the embedding application's job; the request
// queue is the only effect.
func requestCalibrations(calType string) core.Capability {
	return func(rc *core.ExecutionContext) error {
		rc.RequestCalibrations(calType)
		return nil
	}
}

// stackInto collapses the current inputs into a single stacked frame named
// after the first input.
func stackInto(suffix string) core.Capability {
	return func(rc *core.ExecutionContext) error {
		inputs := rc.Inputs()
		if len(inputs) == 0 {
			return errors.New("no frames to stack")
		}
		rc.ReportOutput(stackedName(inputs[0], suffix))
		return nil
	}
}

// storeProcessedDark records the stacked dark as the resolved processed dark
// for every original frame, standing in for a calibration-service round
// trip, and passes the product through unchanged.
func storeProcessedDark(rc *core.ExecutionContext) error {
	inputs := rc.Inputs()
	if len(inputs) != 1 {
		return fmt.Errorf("expected a single stacked dark, have %d inputs", len(inputs))
	}
	dark := inputs[0]
	frames := rc.OriginalInputs()
	if frames == nil {
		frames = inputs
	}
	for _, frame := range frames {
		rc.RecordCalibration(frame, CalProcessedDark, dark)
	}
	rc.ReportOutput(dark)
	return nil
}

func showInputs(rc *core.ExecutionContext) error {
	// The begin moment already records the inputs; showing is the history.
	return nil
}

func validateData(rc *core.ExecutionContext) error {
	if len(rc.Inputs()) == 0 {
		return errors.New("no input frames to validate")
	}
	return nil
}

func paramString(rc *core.ExecutionContext, key, fallback string) string {
	if v, ok := rc.Param(key); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func stackedName(first, suffix string) string {
	dir := filepath.Dir(first)
	base := filepath.Base(first)
	ext := filepath.Ext(base)
	if ext == "" {
		ext = ".fits"
	}
	return filepath.Join(dir, strings.TrimSuffix(base, ext)+suffix+ext)
}
