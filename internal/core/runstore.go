package core

import (
	"context"
	"time"
)

// RunFailed labels persisted runs stopped by a primitive error. Live contexts
// never carry it; failure is a property of the execution, not of the status
// machine.
const RunFailed = "FAILED"

// RunRecord is the persisted snapshot of one execution: identity, life cycle,
// dataset flow, and the full step history.
type RunRecord struct {
	ID             string       `json:"id"`
	Recipe         string       `json:"recipe"`
	TypeName       string       `json:"type_name"`
	Status         string       `json:"status"`
	Error          string       `json:"error,omitempty"`
	Hostname       string       `json:"hostname"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
	Inputs         []string     `json:"inputs"`
	Outputs        []string     `json:"outputs"`
	OriginalInputs []string     `json:"original_inputs,omitempty"`
	Moments        []StepMoment `json:"moments"`
}

// RunStore persists run snapshots for later inspection. Saving an existing ID
// overwrites the stored record, so a run can be checkpointed repeatedly as it
// progresses.
type RunStore interface {
	SaveRun(ctx context.Context, rec RunRecord) error
	GetRun(ctx context.Context, id string) (RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]RunRecord, error)
	Close() error
}

// SnapshotRun captures the execution's current state as a persistable record.
func SnapshotRun(exec *Execution) RunRecord {
	rc := exec.Context()
	status := string(rc.Status())
	var errMsg string
	if err := exec.Err(); err != nil {
		status = RunFailed
		errMsg = err.Error()
	}
	return RunRecord{
		ID:             rc.ID(),
		Recipe:         exec.Recipe(),
		TypeName:       exec.Object().TypeName(),
		Status:         status,
		Error:          errMsg,
		Hostname:       rc.Hostname(),
		StartedAt:      rc.StartedAt(),
		FinishedAt:     rc.FinishedAt(),
		Inputs:         rc.Inputs(),
		Outputs:        rc.Outputs(OutputStandard),
		OriginalInputs: rc.OriginalInputs(),
		Moments:        rc.History(),
	}
}

// CloneRunRecord deep-copies a record so stores can hand out snapshots
// without sharing slices with callers.
func CloneRunRecord(rec RunRecord) RunRecord {
	rec.Inputs = append([]string(nil), rec.Inputs...)
	rec.Outputs = append([]string(nil), rec.Outputs...)
	rec.OriginalInputs = append([]string(nil), rec.OriginalInputs...)
	moments := make([]StepMoment, len(rec.Moments))
	for i, m := range rec.Moments {
		m.Inputs = append([]string(nil), m.Inputs...)
		m.Outputs = append([]string(nil), m.Outputs...)
		moments[i] = m
	}
	rec.Moments = moments
	return rec
}
