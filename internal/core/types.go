package core

import "time"

// Status represents the execution context life cycle state.
type Status string

// Context statuses. FINISHED is terminal; RUNNING and PAUSED alternate under
// cooperative control.
const (
	StatusRunning  Status = "RUNNING"
	StatusPaused   Status = "PAUSED"
	StatusFinished Status = "FINISHED"
)

// ControlSignal carries an externally requested control action, observed and
// cleared at step boundaries.
type ControlSignal string

// Control signals recognised by the step protocol.
const (
	ControlNone  ControlSignal = "NONE"
	ControlPause ControlSignal = "PAUSE"
)

// StepMark distinguishes the two boundary records of a step.
type StepMark string

// Boundary marks recorded in step history.
const (
	MarkBegin StepMark = "begin"
	MarkEnd   StepMark = "end"
)

// OutputStandard is the only output category the context accepts from
// primitives. Other categories exist structurally but are reserved.
const OutputStandard = "standard"

// StepMoment is an immutable record of one step boundary: the step name, the
// mark, the nesting depth, and snapshots of inputs and standard outputs at
// that instant. Never mutated after recording.
type StepMoment struct {
	Step      string    `json:"step"`
	Mark      StepMark  `json:"mark"`
	Indent    int       `json:"indent"`
	Timestamp time.Time `json:"timestamp"`
	Inputs    []string  `json:"inputs"`
	Outputs   []string  `json:"outputs"`
}

// BindResult reports the outcome of binding a compiled recipe onto a
// reduction object.
type BindResult string

// Bind outcomes. Binding over a native capability is a no-op reported as
// already satisfied.
const (
	BindCompleted        BindResult = "bound"
	BindAlreadySatisfied BindResult = "already_satisfied"
)

// Checkpoint is the value an execution yields to its driving loop after each
// completed primitive invocation.
type Checkpoint struct {
	// Step is the primitive that just completed.
	Step string
	// Index counts completed primitive invocations, starting at 0.
	Index int
	// Depth is the nesting depth the step ran at.
	Depth int
	// Status is the context status observed after the boundary, once the
	// control signal has been processed.
	Status Status
	// Inputs is the context input list after output finalization.
	Inputs []string
}

// CalibrationKey identifies one resolved calibration association.
type CalibrationKey struct {
	DatasetRef string `json:"dataset_ref"`
	CalType    string `json:"cal_type"`
}

// CalibrationRequest asks the external calibration service to locate a
// calibration of the given type for one dataset. Resolution happens
// out of band; the service answers by calling RecordCalibration.
type CalibrationRequest struct {
	DatasetRef  string         `json:"dataset_ref"`
	CalType     string         `json:"cal_type"`
	Descriptors map[string]any `json:"descriptors,omitempty"`
	Types       []string       `json:"types,omitempty"`
}
