package core

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ExecutionContext is the mutable per-run state threading inputs, outputs,
// calibrations, and step history through an execution. It is owned by exactly
// one execution at a time; the step protocol is single-threaded cooperative,
// so inputs, outputs, and history carry no locking. Only the status and
// control words are mutex-guarded, so that a controller on another goroutine
// may request a pause or inspect the life cycle while a primitive runs.
// Handing a context to a second concurrent execution is a caller error.
type ExecutionContext struct {
	id        string
	hostname  string
	startedAt time.Time

	inputs           []string
	originalInputs   []string
	originalCaptured bool
	outputs          map[string][]string

	calibrations map[CalibrationKey]string
	calRequests  []CalibrationRequest

	history   []StepMoment
	indent    int
	stepStack []string

	stateMu    sync.Mutex
	status     Status
	control    ControlSignal
	finishedAt time.Time

	params map[string]map[string]any
}

// ContextOption customises context construction.
type ContextOption func(*ExecutionContext)

// WithParams supplies per-primitive parameter maps, typically sourced from
// the configuration space. Param lookups during a step consult the entry for
// the innermost begun step name.
func WithParams(params map[string]map[string]any) ContextOption {
	return func(rc *ExecutionContext) {
		rc.params = cloneParams(params)
	}
}

// WithID overrides the generated run identifier.
func WithID(id string) ContextOption {
	return func(rc *ExecutionContext) {
		if id != "" {
			rc.id = id
		}
	}
}

// NewExecutionContext builds a RUNNING context over the given dataset
// references.
func NewExecutionContext(inputs []string, opts ...ContextOption) *ExecutionContext {
	host, _ := os.Hostname()
	rc := &ExecutionContext{
		id:        newID(),
		hostname:  host,
		startedAt: time.Now().UTC(),
		inputs:    append([]string(nil), inputs...),
		outputs:   map[string][]string{OutputStandard: {}},
		status:    StatusRunning,
		control:   ControlNone,
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// ID returns the run identifier.
func (rc *ExecutionContext) ID() string { return rc.id }

// Hostname returns the host the context was created on.
func (rc *ExecutionContext) Hostname() string { return rc.hostname }

// StartedAt returns the context creation time.
func (rc *ExecutionContext) StartedAt() time.Time { return rc.startedAt }

// Inputs returns a copy of the current dataset references.
func (rc *ExecutionContext) Inputs() []string {
	return append([]string(nil), rc.inputs...)
}

// AddInput appends a dataset reference to the current inputs.
func (rc *ExecutionContext) AddInput(ref string) {
	rc.inputs = append(rc.inputs, ref)
}

// OriginalInputs returns a copy of the input list as it stood before the
// first finalized outputs replaced it, or nil when no finalize has captured
// it yet.
func (rc *ExecutionContext) OriginalInputs() []string {
	if !rc.originalCaptured {
		return nil
	}
	return append([]string(nil), rc.originalInputs...)
}

// Outputs returns a copy of the named output category.
func (rc *ExecutionContext) Outputs(category string) []string {
	return append([]string(nil), rc.outputs[category]...)
}

// ReportOutput appends dataset references to the standard output category.
func (rc *ExecutionContext) ReportOutput(refs ...string) {
	rc.outputs[OutputStandard] = append(rc.outputs[OutputStandard], refs...)
}

// ReportOutputTo appends dataset references to the named category. Only the
// standard category is accepted; anything else is rejected immediately and
// the standard list is left untouched.
func (rc *ExecutionContext) ReportOutputTo(category string, refs ...string) error {
	if category != OutputStandard {
		return InvalidOutputCategoryError{Category: category}
	}
	rc.ReportOutput(refs...)
	return nil
}

// FinalizeOutputs chains steps: when the standard category is non-empty, the
// original inputs are captured on first occurrence, the standard outputs
// become the new inputs, and the category is cleared. Empty standard outputs
// make this a no-op, so repeated calls are idempotent.
func (rc *ExecutionContext) FinalizeOutputs() {
	std := rc.outputs[OutputStandard]
	if len(std) == 0 {
		return
	}
	if !rc.originalCaptured {
		rc.originalInputs = append([]string(nil), rc.inputs...)
		rc.originalCaptured = true
	}
	rc.inputs = std
	rc.outputs[OutputStandard] = []string{}
}

// Begin records a begin moment for the step at the current depth, then
// deepens nesting. Returns the context for chaining.
func (rc *ExecutionContext) Begin(step string) *ExecutionContext {
	rc.appendMoment(step, MarkBegin, rc.indent)
	rc.indent++
	rc.stepStack = append(rc.stepStack, step)
	return rc
}

// End closes the step begun last: nesting shallows, an end moment is recorded
// at the same depth as the matching begin, and outputs are finalized.
func (rc *ExecutionContext) End(step string) *ExecutionContext {
	if n := len(rc.stepStack); n > 0 {
		rc.stepStack = rc.stepStack[:n-1]
	}
	if rc.indent > 0 {
		rc.indent--
	}
	rc.appendMoment(step, MarkEnd, rc.indent)
	rc.FinalizeOutputs()
	return rc
}

func (rc *ExecutionContext) appendMoment(step string, mark StepMark, indent int) {
	ts := time.Now().UTC()
	if n := len(rc.history); n > 0 && !ts.After(rc.history[n-1].Timestamp) {
		ts = rc.history[n-1].Timestamp.Add(time.Nanosecond)
	}
	rc.history = append(rc.history, StepMoment{
		Step:      step,
		Mark:      mark,
		Indent:    indent,
		Timestamp: ts,
		Inputs:    append([]string(nil), rc.inputs...),
		Outputs:   append([]string(nil), rc.outputs[OutputStandard]...),
	})
}

// History returns a copy of the recorded step moments in execution order.
func (rc *ExecutionContext) History() []StepMoment {
	out := make([]StepMoment, len(rc.history))
	for i, m := range rc.history {
		m.Inputs = append([]string(nil), m.Inputs...)
		m.Outputs = append([]string(nil), m.Outputs...)
		out[i] = m
	}
	return out
}

// BeginMark returns the first recorded begin moment for the step.
func (rc *ExecutionContext) BeginMark(step string) (StepMoment, bool) {
	return rc.mark(step, MarkBegin)
}

// EndMark returns the first recorded end moment for the step.
func (rc *ExecutionContext) EndMark(step string) (StepMoment, bool) {
	return rc.mark(step, MarkEnd)
}

func (rc *ExecutionContext) mark(step string, mark StepMark) (StepMoment, bool) {
	for _, m := range rc.history {
		if m.Step == step && m.Mark == mark {
			m.Inputs = append([]string(nil), m.Inputs...)
			m.Outputs = append([]string(nil), m.Outputs...)
			return m, true
		}
	}
	return StepMoment{}, false
}

// Status returns the current life cycle state.
func (rc *ExecutionContext) Status() Status {
	rc.stateMu.Lock()
	defer rc.stateMu.Unlock()
	return rc.status
}

// Finished reports whether the context reached its terminal state.
func (rc *ExecutionContext) Finished() bool { return rc.Status() == StatusFinished }

// Indent returns the current step nesting depth.
func (rc *ExecutionContext) Indent() int { return rc.indent }

// RequestPause asks the driving loop to park the execution at the next step
// boundary. The status itself does not change until the signal is observed.
func (rc *ExecutionContext) RequestPause() error {
	rc.stateMu.Lock()
	defer rc.stateMu.Unlock()
	if rc.status == StatusFinished {
		return IllegalStateTransitionError{Op: "request pause", From: rc.status}
	}
	rc.control = ControlPause
	return nil
}

// PauseRequested reports whether a pause signal is pending.
func (rc *ExecutionContext) PauseRequested() bool {
	rc.stateMu.Lock()
	defer rc.stateMu.Unlock()
	return rc.control == ControlPause
}

// CheckControl returns the pending control signal without clearing it.
func (rc *ExecutionContext) CheckControl() ControlSignal {
	rc.stateMu.Lock()
	defer rc.stateMu.Unlock()
	return rc.control
}

// ObserveControl is called by driving loops at step boundaries: a pending
// pause signal is cleared and the context parks in PAUSED. Reports whether
// the context paused.
func (rc *ExecutionContext) ObserveControl() bool {
	rc.stateMu.Lock()
	defer rc.stateMu.Unlock()
	if rc.control != ControlPause {
		return false
	}
	rc.control = ControlNone
	if rc.status == StatusRunning {
		rc.status = StatusPaused
	}
	return true
}

// Pause parks the context. Pausing an already paused context is allowed;
// pausing a finished one is not.
func (rc *ExecutionContext) Pause() error {
	rc.stateMu.Lock()
	defer rc.stateMu.Unlock()
	if rc.status == StatusFinished {
		return IllegalStateTransitionError{Op: "pause", From: rc.status}
	}
	rc.status = StatusPaused
	return nil
}

// Unpause resumes a parked context. Only an explicit external call resumes;
// unpausing a running context is a no-op.
func (rc *ExecutionContext) Unpause() error {
	rc.stateMu.Lock()
	defer rc.stateMu.Unlock()
	if rc.status == StatusFinished {
		return IllegalStateTransitionError{Op: "unpause", From: rc.status}
	}
	rc.status = StatusRunning
	return nil
}

// Finish moves the context to its terminal state. Any later attempt to
// change status fails with IllegalStateTransitionError.
func (rc *ExecutionContext) Finish() error {
	rc.stateMu.Lock()
	defer rc.stateMu.Unlock()
	if rc.status == StatusFinished {
		return IllegalStateTransitionError{Op: "finish", From: rc.status}
	}
	rc.status = StatusFinished
	rc.finishedAt = time.Now().UTC()
	return nil
}

// FinishedAt returns the terminal transition time, zero until finished.
func (rc *ExecutionContext) FinishedAt() time.Time {
	rc.stateMu.Lock()
	defer rc.stateMu.Unlock()
	return rc.finishedAt
}

// AddCalibrationRequest enqueues an unresolved calibration request.
func (rc *ExecutionContext) AddCalibrationRequest(rq CalibrationRequest) {
	rc.calRequests = append(rc.calRequests, rq)
}

// RequestCalibrations enqueues one request of the given type per current
// input.
func (rc *ExecutionContext) RequestCalibrations(calType string) {
	for _, ref := range rc.inputs {
		rc.AddCalibrationRequest(CalibrationRequest{DatasetRef: ref, CalType: calType})
	}
}

// CalibrationRequests returns a copy of the pending request queue.
func (rc *ExecutionContext) CalibrationRequests() []CalibrationRequest {
	return cloneRequests(rc.calRequests)
}

// TakeCalibrationRequests drains the pending request queue, returning the
// requests in arrival order.
func (rc *ExecutionContext) TakeCalibrationRequests() []CalibrationRequest {
	out := rc.calRequests
	rc.calRequests = nil
	return out
}

// RecordCalibration stores the resolved calibration reference for a dataset
// and calibration type. Called by the external calibration service once a
// request resolves.
func (rc *ExecutionContext) RecordCalibration(datasetRef, calType, resolvedRef string) {
	if rc.calibrations == nil {
		rc.calibrations = make(map[CalibrationKey]string)
	}
	rc.calibrations[CalibrationKey{DatasetRef: datasetRef, CalType: calType}] = resolvedRef
}

// Calibration looks up a resolved calibration. Absence is routine until the
// external service answers, so a miss is not an error.
func (rc *ExecutionContext) Calibration(datasetRef, calType string) (string, bool) {
	ref, ok := rc.calibrations[CalibrationKey{DatasetRef: datasetRef, CalType: calType}]
	return ref, ok
}

// CalibrationFiles returns the resolved calibrations of the given type for
// the original inputs, capturing the original input snapshot if needed.
// Unresolved entries are omitted.
func (rc *ExecutionContext) CalibrationFiles(calType string) []string {
	if !rc.originalCaptured {
		rc.originalInputs = append([]string(nil), rc.inputs...)
		rc.originalCaptured = true
	}
	var out []string
	for _, ref := range rc.originalInputs {
		if cal, ok := rc.Calibration(ref, calType); ok {
			out = append(out, cal)
		}
	}
	return out
}

// ParamsFor returns a copy of the configured parameters for a primitive.
func (rc *ExecutionContext) ParamsFor(primitive string) map[string]any {
	vals, ok := rc.params[primitive]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(vals))
	for k, v := range vals {
		out[k] = v
	}
	return out
}

// Param looks up a parameter for the innermost begun step. Primitives call
// this during their own invocation to read their configured values.
func (rc *ExecutionContext) Param(key string) (any, bool) {
	n := len(rc.stepStack)
	if n == 0 {
		return nil, false
	}
	vals, ok := rc.params[rc.stepStack[n-1]]
	if !ok {
		return nil, false
	}
	v, ok := vals[key]
	return v, ok
}

// PrependNames derives one new reference per input by prefixing the base
// name, preserving each input's directory.
func (rc *ExecutionContext) PrependNames(prefix string) []string {
	out := make([]string, 0, len(rc.inputs))
	for _, ref := range rc.inputs {
		dir := filepath.Dir(ref)
		base := filepath.Base(ref)
		out = append(out, filepath.Join(dir, prefix+base))
	}
	return out
}

// InputsAsStr renders the inputs as a comma-separated list, path-stripped by
// default.
func (rc *ExecutionContext) InputsAsStr(strip bool) string {
	return joinRefs(rc.inputs, strip)
}

// OutputsAsStr renders the standard outputs as a comma-separated list.
func (rc *ExecutionContext) OutputsAsStr(strip bool) string {
	return joinRefs(rc.outputs[OutputStandard], strip)
}

func joinRefs(refs []string, strip bool) string {
	if len(refs) == 0 {
		return ""
	}
	if !strip {
		return strings.Join(refs, ", ")
	}
	bases := make([]string, len(refs))
	for i, ref := range refs {
		bases[i] = filepath.Base(ref)
	}
	return strings.Join(bases, ", ")
}

func cloneParams(params map[string]map[string]any) map[string]map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]map[string]any, len(params))
	for prim, vals := range params {
		cp := make(map[string]any, len(vals))
		for k, v := range vals {
			cp[k] = v
		}
		out[prim] = cp
	}
	return out
}

func cloneRequests(rqs []CalibrationRequest) []CalibrationRequest {
	if rqs == nil {
		return nil
	}
	out := make([]CalibrationRequest, len(rqs))
	for i, rq := range rqs {
		if rq.Descriptors != nil {
			desc := make(map[string]any, len(rq.Descriptors))
			for k, v := range rq.Descriptors {
				desc[k] = v
			}
			rq.Descriptors = desc
		}
		rq.Types = append([]string(nil), rq.Types...)
		out[i] = rq
	}
	return out
}

func newID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf[:])
}
