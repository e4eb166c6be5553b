package core

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestDriverDeliversAllCheckpoints(t *testing.T) {
	var log []string
	reg := newImagingRegistry(t, &log)
	ctx := context.Background()

	ro, err := reg.RetrieveReductionObjectForType(ctx, "GMOS_IMAGE")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	ro.Bind("makeImage", CompileRecipe("makeImage", "prepare\nbiasCorrect\nflatten\n"))
	rc := NewExecutionContext([]string{"a.fits"})
	exec, err := reg.NewExecution(ctx, ro, rc, "makeImage")
	if err != nil {
		t.Fatalf("new execution: %v", err)
	}

	d := NewDriver(exec)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatalf("second start must fail")
	}

	var steps []string
	for cp := range d.Checkpoints() {
		steps = append(steps, cp.Step)
	}
	if err := d.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !reflect.DeepEqual(steps, []string{"prepare", "biasCorrect", "flatten"}) {
		t.Fatalf("unexpected checkpoint steps: %v", steps)
	}
	if !reflect.DeepEqual(log, steps) {
		t.Fatalf("invocations and checkpoints must agree: %v vs %v", log, steps)
	}
	if !exec.Done() {
		t.Fatalf("drained run must be done")
	}
}

func TestDriverPauseResume(t *testing.T) {
	reg := newImagingRegistry(t, new([]string))
	ctx := context.Background()

	var calls []string
	set := staticSet{name: "pausing", caps: map[string]Capability{
		"prepare": recordingCapability(&calls, "prepare"),
		"biasCorrect": func(rc *ExecutionContext) error {
			calls = append(calls, "biasCorrect")
			return rc.RequestPause()
		},
		"flatten": recordingCapability(&calls, "flatten"),
	}}
	ro := NewReductionObject("GMOS_IMAGE", set)
	ro.Bind("makeImage", CompileRecipe("makeImage", "prepare\nbiasCorrect\nflatten\n"))
	rc := NewExecutionContext([]string{"a.fits"})
	exec, err := reg.NewExecution(ctx, ro, rc, "makeImage")
	if err != nil {
		t.Fatalf("new execution: %v", err)
	}

	// A pause requested before the run starts takes effect at the first
	// boundary, so the first checkpoint is already paused.
	if err := rc.RequestPause(); err != nil {
		t.Fatalf("request pause: %v", err)
	}

	d := NewDriver(exec)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	cp := <-d.Checkpoints()
	if cp.Step != "prepare" || cp.Status != StatusPaused {
		t.Fatalf("expected paused prepare checkpoint, got %+v", cp)
	}
	if err := d.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}

	cp = <-d.Checkpoints()
	if cp.Step != "biasCorrect" || cp.Status != StatusPaused {
		t.Fatalf("self-pausing step must deliver a paused checkpoint, got %+v", cp)
	}
	if err := d.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}

	cp, open := <-d.Checkpoints()
	if !open || cp.Step != "flatten" || cp.Status != StatusRunning {
		t.Fatalf("expected running flatten checkpoint, got %+v open=%v", cp, open)
	}
	if _, open := <-d.Checkpoints(); open {
		t.Fatalf("channel must close after the last step")
	}
	if err := d.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !rc.Finished() {
		t.Fatalf("resumed run must finish")
	}
	if !reflect.DeepEqual(calls, []string{"prepare", "biasCorrect", "flatten"}) {
		t.Fatalf("unexpected calls: %v", calls)
	}
}

func TestDriverStopClosesChannel(t *testing.T) {
	var log []string
	reg := newImagingRegistry(t, &log)
	ctx := context.Background()

	ro, err := reg.RetrieveReductionObjectForType(ctx, "GMOS_IMAGE")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	ro.Bind("makeImage", CompileRecipe("makeImage", "prepare\nbiasCorrect\nflatten\n"))
	rc := NewExecutionContext([]string{"a.fits"})
	exec, err := reg.NewExecution(ctx, ro, rc, "makeImage")
	if err != nil {
		t.Fatalf("new execution: %v", err)
	}

	d := NewDriver(exec)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if cp := <-d.Checkpoints(); cp.Step != "prepare" {
		t.Fatalf("unexpected first checkpoint: %+v", cp)
	}
	d.Stop()
	d.Stop() // idempotent
	if err := d.Wait(); err != nil {
		t.Fatalf("a stop is not a run error: %v", err)
	}
	// Undelivered checkpoints may remain buffered; the channel still closes.
	for range d.Checkpoints() {
	}
	if rc.Finished() {
		t.Fatalf("stopped run must not reach FINISHED")
	}
}

func TestDriverWaitReturnsRunError(t *testing.T) {
	var log []string
	reg := newImagingRegistry(t, &log)
	ctx := context.Background()

	ro, err := reg.RetrieveReductionObjectForType(ctx, "GMOS_IMAGE")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	ro.Bind("makeImage", CompileRecipe("makeImage", "prepare\nvanish\n"))
	rc := NewExecutionContext([]string{"a.fits"})
	exec, err := reg.NewExecution(ctx, ro, rc, "makeImage")
	if err != nil {
		t.Fatalf("new execution: %v", err)
	}

	d := NewDriver(exec)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	var steps []string
	for cp := range d.Checkpoints() {
		steps = append(steps, cp.Step)
	}
	var unknown UnknownPrimitiveError
	if err := d.Wait(); !errors.As(err, &unknown) || unknown.Name != "vanish" {
		t.Fatalf("expected UnknownPrimitiveError from wait, got %v", err)
	}
	if !reflect.DeepEqual(steps, []string{"prepare"}) {
		t.Fatalf("only the good step may deliver a checkpoint: %v", steps)
	}
}

func TestDriverHonorsContextCancellation(t *testing.T) {
	var log []string
	reg := newImagingRegistry(t, &log)
	ctx := context.Background()

	ro, err := reg.RetrieveReductionObjectForType(ctx, "GMOS_IMAGE")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	ro.Bind("makeImage", CompileRecipe("makeImage", "prepare\nflatten\n"))
	rc := NewExecutionContext(nil)
	exec, err := reg.NewExecution(ctx, ro, rc, "makeImage")
	if err != nil {
		t.Fatalf("new execution: %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewDriver(exec)
	if err := d.Start(cancelled); err != nil {
		t.Fatalf("start: %v", err)
	}
	for range d.Checkpoints() {
	}
	if err := d.Wait(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error from wait, got %v", err)
	}
	if len(log) != 0 {
		t.Fatalf("no step may run under a cancelled context: %v", log)
	}
}
