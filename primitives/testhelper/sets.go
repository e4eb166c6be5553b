// Package testhelper hosts engine fixture builders used by tests that need
// controlled primitive sets: sets that record their invocation order, or
// chain derived outputs, without any instrument behavior attached.
package testhelper

import (
	"reducore/internal/core"
)

type fixtureSet struct {
	name string
	caps map[string]core.Capability
}

func (s fixtureSet) Name() string { return s.name }

func (s fixtureSet) Capabilities() map[string]core.Capability { return s.caps }

// RecordingSet builds a primitive set whose capabilities append their own
// step name to log when invoked and leave the pipeline state untouched.
func RecordingSet(log *[]string, name string, steps ...string) core.PrimitiveSet {
	caps := make(map[string]core.Capability, len(steps))
	for _, step := range steps {
		step := step
		caps[step] = func(*core.ExecutionContext) error {
			*log = append(*log, step)
			return nil
		}
	}
	return fixtureSet{name: name, caps: caps}
}

// ChainingSet builds a primitive set whose capabilities record themselves
// like RecordingSet and additionally report one output per input, prefixed
// with the step name, so tests can observe output chaining between steps.
func ChainingSet(log *[]string, name string, steps ...string) core.PrimitiveSet {
	caps := make(map[string]core.Capability, len(steps))
	for _, step := range steps {
		step := step
		caps[step] = func(rc *core.ExecutionContext) error {
			*log = append(*log, step)
			rc.ReportOutput(rc.PrependNames(step + "_")...)
			return nil
		}
	}
	return fixtureSet{name: name, caps: caps}
}

// FailingSet builds a primitive set whose capabilities record themselves and
// then fail with the given error.
func FailingSet(log *[]string, name string, err error, steps ...string) core.PrimitiveSet {
	caps := make(map[string]core.Capability, len(steps))
	for _, step := range steps {
		step := step
		caps[step] = func(*core.ExecutionContext) error {
			*log = append(*log, step)
			return err
		}
	}
	return fixtureSet{name: name, caps: caps}
}

// Factories wraps already-built sets into the factory map the registry
// consumes, keyed by set name.
func Factories(sets ...core.PrimitiveSet) map[string]core.SetFactory {
	out := make(map[string]core.SetFactory, len(sets))
	for _, set := range sets {
		set := set
		out[set.Name()] = func() core.PrimitiveSet { return set }
	}
	return out
}
