// Package primitives hosts the compiled-in primitive set packages. It
// intentionally contains no production runtime code itself; this file exists
// to satisfy tooling (go vet, import checks) for the architectural guard
// test that lives alongside it.
//
// Set packages operate on pipeline state exclusively through the execution
// context: they must not reach into storage, transport, or persistence
// backends. The guard test enforces that boundary by restricting which
// module-internal packages a set package may import. The testhelper
// subpackage builds engine fixtures for tests and follows the same rule.
package primitives
