package core

import (
	"fmt"
	"strings"
)

// ConfigurationConflictError reports a classification type bound to two
// different primitive sets across configuration sources. It is fatal at load
// time; the registry refuses to serve executions.
type ConfigurationConflictError struct {
	TypeName       string
	Existing       string
	ExistingSource string
	Incoming       string
	IncomingSource string
}

func (e ConfigurationConflictError) Error() string {
	return fmt.Sprintf("configuration conflict: type %q bound to primitive set %q (%s) and %q (%s)",
		e.TypeName, e.Existing, e.ExistingSource, e.Incoming, e.IncomingSource)
}

// ConflictingAssignmentError reports two applicable types with primitive sets
// where neither is a subtype of the other. It aborts the offending execution
// only.
type ConflictingAssignmentError struct {
	TypeA string
	TypeB string
}

func (e ConflictingAssignmentError) Error() string {
	return fmt.Sprintf("conflicting primitives assignment: type %q conflicts with type %q", e.TypeA, e.TypeB)
}

// NoApplicableSetError reports that none of a dataset's candidate types has a
// registered primitive set.
type NoApplicableSetError struct {
	Candidates []string
}

func (e NoApplicableSetError) Error() string {
	return fmt.Sprintf("no primitive set registered for any of: %s", strings.Join(e.Candidates, ", "))
}

// UnknownPrimitiveError reports a recipe step that resolves to neither a
// native capability nor a bound recipe on the reduction object.
type UnknownPrimitiveError struct {
	Name     string
	TypeName string
}

func (e UnknownPrimitiveError) Error() string {
	return fmt.Sprintf("unknown primitive %q on reduction object for type %q", e.Name, e.TypeName)
}

// UnknownRecipeError reports a recipe lookup miss for both the typed and the
// untyped key.
type UnknownRecipeError struct {
	Name     string
	TypeName string
}

func (e UnknownRecipeError) Error() string {
	if e.TypeName == "" {
		return fmt.Sprintf("unknown recipe %q", e.Name)
	}
	return fmt.Sprintf("unknown recipe %q for type %q", e.Name, e.TypeName)
}

// UnknownPrimitiveSetError reports a primitive-index declaration naming a set
// with no registered factory. Surfaced lazily when the set is first needed.
type UnknownPrimitiveSetError struct {
	SetName  string
	TypeName string
}

func (e UnknownPrimitiveSetError) Error() string {
	return fmt.Sprintf("no factory registered for primitive set %q (type %q)", e.SetName, e.TypeName)
}

// IllegalStateTransitionError reports an attempt to move the execution context
// status machine through a forbidden edge, such as mutating a finished
// context.
type IllegalStateTransitionError struct {
	Op   string
	From Status
}

func (e IllegalStateTransitionError) Error() string {
	return fmt.Sprintf("illegal state transition: cannot %s while %s", e.Op, e.From)
}

// InvalidOutputCategoryError reports an output reported to a category other
// than standard.
type InvalidOutputCategoryError struct {
	Category string
}

func (e InvalidOutputCategoryError) Error() string {
	return fmt.Sprintf("invalid output category %q: only %q is supported", e.Category, OutputStandard)
}
