package gemini

import (
	"testing"

	"reducore/testutil"
)

// TestAPIBoundaryGuards enforces that the builtin set package reaches the
// engine only through the execution context API: no storage implementation
// may be imported directly or arrive transitively.
func TestAPIBoundaryGuards(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.StorageImportForbidden,
		"set packages must not touch storage implementations")

	testutil.AssertNoTransitiveDependency(t, "./...", testutil.StorageImportForbidden,
		"set packages must not pull storage in transitively")
}
