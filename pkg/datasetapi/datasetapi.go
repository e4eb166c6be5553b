// Package datasetapi defines the boundary between the reduction engine and
// dataset implementations. The engine never inspects dataset contents; it only
// asks a dataset for its name and its applicable classification types, and
// manages open/close lifecycle when it materialized the dataset itself.
package datasetapi

import (
	"fmt"
	"os"
)

// Dataset is the minimal contract a reducible dataset exposes to the engine.
type Dataset interface {
	// Name returns the dataset reference, typically a file path.
	Name() string
	// ApplicableTypes returns the classification types that apply to this
	// dataset, most specific first when the implementation can order them.
	ApplicableTypes() []string
	// Open prepares the dataset for use. Implementations must tolerate
	// repeated calls.
	Open() error
	// Close releases resources held by Open.
	Close() error
}

// Classifier maps a dataset name to its applicable classification types.
// astrotype.Graph satisfies this interface.
type Classifier interface {
	Classify(name string) []string
}

// ClassifierFunc adapts a plain function to the Classifier interface, for
// callers that classify with the ancestor closure or a fixed table.
type ClassifierFunc func(name string) []string

// Classify calls f.
func (f ClassifierFunc) Classify(name string) []string { return f(name) }

// OpenIfNeeded resolves a dataset reference that is either an already-open
// Dataset or a path string. Path strings are materialized as File datasets,
// classified and opened; the boolean reports whether the caller owns the
// close. Any other reference kind is an error.
func OpenIfNeeded(ref any, classifier Classifier) (Dataset, bool, error) {
	switch v := ref.(type) {
	case Dataset:
		return v, false, nil
	case string:
		ds := NewFile(v, classifier)
		if err := ds.Open(); err != nil {
			return nil, false, err
		}
		return ds, true, nil
	default:
		return nil, false, fmt.Errorf("unsupported dataset reference %T", ref)
	}
}

// CloseIfNeeded closes the dataset only when OpenIfNeeded reported ownership.
func CloseIfNeeded(ds Dataset, owned bool) error {
	if !owned || ds == nil {
		return nil
	}
	return ds.Close()
}

// Static is an in-memory dataset with fixed applicable types, used by tests
// and by callers that classify out of band.
type Static struct {
	name   string
	types  []string
	Opens  int
	Closes int
}

// NewStatic builds a Static dataset reporting the given types in order.
func NewStatic(name string, types ...string) *Static {
	return &Static{name: name, types: append([]string(nil), types...)}
}

// Name returns the dataset reference.
func (s *Static) Name() string { return s.name }

// ApplicableTypes returns a copy of the configured types.
func (s *Static) ApplicableTypes() []string {
	return append([]string(nil), s.types...)
}

// Open records the call and always succeeds.
func (s *Static) Open() error {
	s.Opens++
	return nil
}

// Close records the call and always succeeds.
func (s *Static) Close() error {
	s.Closes++
	return nil
}

// File is a path-backed dataset classified by name. Open verifies the path
// refers to a readable regular file; contents are never interpreted here.
type File struct {
	path       string
	classifier Classifier
	opened     bool
}

// NewFile builds a File dataset for the given path. The classifier may be nil,
// in which case the dataset reports no applicable types.
func NewFile(path string, classifier Classifier) *File {
	return &File{path: path, classifier: classifier}
}

// Name returns the dataset path as given.
func (f *File) Name() string { return f.path }

// ApplicableTypes classifies the path by name.
func (f *File) ApplicableTypes() []string {
	if f.classifier == nil {
		return nil
	}
	return f.classifier.Classify(f.path)
}

// Open checks the path exists and is a regular file.
func (f *File) Open() error {
	info, err := os.Stat(f.path)
	if err != nil {
		return fmt.Errorf("open dataset %s: %w", f.path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("open dataset %s: not a regular file", f.path)
	}
	f.opened = true
	return nil
}

// Close releases the dataset. File holds no OS handle, so this only clears
// the opened flag.
func (f *File) Close() error {
	f.opened = false
	return nil
}
