package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Execution interprets one bound recipe over one execution context. It is a
// cursor: each Next call advances by exactly one completed primitive
// invocation and reports a checkpoint for it, so the caller decides when the
// run proceeds. Sub-recipe entry and exit happen silently inside Next between
// primitive completions.
//
// An Execution is single-owner like the context it drives. Use Driver to pump
// one from its own goroutine.
type Execution struct {
	registry *Registry
	ro       *ReductionObject
	rc       *ExecutionContext
	recipe   string
	metrics  MetricsRecorder
	tracer   Tracer
	frames   []execFrame
	steps    int
	failed   error
}

// execFrame is one level of the recipe call stack. The bottom frame carries
// an empty name: the outermost sequence writes no begin and end moments of
// its own.
type execFrame struct {
	name string
	seq  *StepSequence
	pos  int
}

// NewExecution prepares a run of the named recipe on the reduction object,
// binding it first when the object does not already satisfy the name. A name
// that resolves to a native capability runs as a single-step sequence.
func (r *Registry) NewExecution(ctx context.Context, ro *ReductionObject, rc *ExecutionContext, recipe string) (*Execution, error) {
	if _, err := r.EnsureBound(ctx, ro, recipe, ro.TypeName()); err != nil {
		return nil, err
	}
	capability, seq, ok := ro.resolve(recipe)
	if !ok {
		return nil, UnknownPrimitiveError{Name: recipe, TypeName: ro.TypeName()}
	}
	if capability != nil {
		seq = &StepSequence{name: recipe, steps: []string{recipe}}
	}
	return &Execution{
		registry: r,
		ro:       ro,
		rc:       rc,
		recipe:   recipe,
		metrics:  r.metrics,
		tracer:   r.tracer,
		frames:   []execFrame{{seq: seq}},
	}, nil
}

// Recipe returns the name the execution was launched with.
func (e *Execution) Recipe() string { return e.recipe }

// Context returns the execution context being driven.
func (e *Execution) Context() *ExecutionContext { return e.rc }

// Object returns the reduction object the steps dispatch through.
func (e *Execution) Object() *ReductionObject { return e.ro }

// Steps returns the number of primitive invocations completed so far.
func (e *Execution) Steps() int { return e.steps }

// Done reports whether the execution has run to completion.
func (e *Execution) Done() bool { return e.rc.Finished() }

// Err returns the primitive failure that stopped the execution, if any.
func (e *Execution) Err() error { return e.failed }

// Next advances the execution by one primitive invocation and returns its
// checkpoint. It returns ok=false without advancing when the context is
// paused, when the run has finished, or when the final primitive's sequence
// bookkeeping completes the run on this call. A primitive failure is sticky:
// it is returned now and on every later call.
func (e *Execution) Next(ctx context.Context) (Checkpoint, bool, error) {
	if e.failed != nil {
		return Checkpoint{}, false, e.failed
	}
	if err := ctx.Err(); err != nil {
		return Checkpoint{}, false, err
	}
	if e.rc.Status() != StatusRunning {
		return Checkpoint{}, false, nil
	}
	for {
		if len(e.frames) == 0 {
			if err := e.rc.Finish(); err != nil {
				return Checkpoint{}, false, err
			}
			return Checkpoint{}, false, nil
		}
		frame := &e.frames[len(e.frames)-1]
		if frame.pos >= frame.seq.Len() {
			name := frame.name
			e.frames = e.frames[:len(e.frames)-1]
			if name != "" {
				e.rc.End(name)
			}
			continue
		}
		step := frame.seq.Step(frame.pos)
		frame.pos++

		capability, sub, ok := e.ro.resolve(step)
		if !ok {
			e.failed = UnknownPrimitiveError{Name: step, TypeName: e.ro.TypeName()}
			return Checkpoint{}, false, e.failed
		}
		if capability == nil {
			e.rc.Begin(step)
			e.frames = append(e.frames, execFrame{name: step, seq: sub})
			continue
		}

		e.rc.Begin(step)
		if err := e.invoke(ctx, step, capability); err != nil {
			e.failed = fmt.Errorf("primitive %s: %w", step, err)
			return Checkpoint{}, false, e.failed
		}
		e.rc.End(step)
		e.rc.ObserveControl()
		cp := Checkpoint{
			Step:   step,
			Index:  e.steps,
			Depth:  e.rc.Indent(),
			Status: e.rc.Status(),
			Inputs: e.rc.Inputs(),
		}
		e.steps++
		return cp, true, nil
	}
}

func (e *Execution) invoke(ctx context.Context, step string, capability Capability) error {
	started := time.Now().UTC()
	_, span := e.tracer.Start(ctx, "primitive:"+step)
	err := capability(e.rc)
	span.End(err)
	e.metrics.Observe(ctx, "execute_step", err == nil, time.Since(started))
	return err
}

// Run drives the execution until it finishes, fails, or pauses. A pause is
// not an error; inspect the context status to distinguish it from
// completion.
func (e *Execution) Run(ctx context.Context) error {
	for {
		_, ok, err := e.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

// Driver pumps an execution from its own goroutine and hands each checkpoint
// to the consumer over a single-slot channel, so step n+1 does not start
// until the consumer has accepted the checkpoint for step n. The consumer
// must drain Checkpoints until it closes.
type Driver struct {
	exec        *Execution
	checkpoints chan Checkpoint
	resume      chan struct{}
	quit        chan struct{}
	done        chan struct{}
	quitOnce    sync.Once
	started     bool

	mu  sync.Mutex
	err error
}

// NewDriver wraps the execution. The driver owns the execution and its
// context from Start until Wait returns.
func NewDriver(exec *Execution) *Driver {
	return &Driver{
		exec:        exec,
		checkpoints: make(chan Checkpoint, 1),
		resume:      make(chan struct{}, 1),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Checkpoints returns the channel checkpoints are delivered on. Closed when
// the run finishes, fails, or is stopped.
func (d *Driver) Checkpoints() <-chan Checkpoint { return d.checkpoints }

// Start launches the pump goroutine. It must be called at most once.
func (d *Driver) Start(ctx context.Context) error {
	if d.started {
		return fmt.Errorf("driver already started")
	}
	d.started = true
	go d.pump(ctx)
	return nil
}

func (d *Driver) pump(ctx context.Context) {
	defer close(d.done)
	defer close(d.checkpoints)
	for {
		cp, ok, err := d.exec.Next(ctx)
		if err != nil {
			d.setErr(err)
			return
		}
		if ok {
			select {
			case d.checkpoints <- cp:
			case <-d.quit:
				return
			case <-ctx.Done():
				d.setErr(ctx.Err())
				return
			}
			continue
		}
		if d.exec.Done() {
			return
		}
		// Paused at a step boundary. Hold here until resumed or stopped.
		select {
		case <-d.resume:
		case <-d.quit:
			return
		case <-ctx.Done():
			d.setErr(ctx.Err())
			return
		}
	}
}

// Pause asks the execution to pause at the next step boundary. The primitive
// in flight always completes first.
func (d *Driver) Pause() error {
	return d.exec.Context().RequestPause()
}

// Resume unpauses the context and wakes the pump.
func (d *Driver) Resume() error {
	if err := d.exec.Context().Unpause(); err != nil {
		return err
	}
	select {
	case d.resume <- struct{}{}:
	default:
	}
	return nil
}

// Stop halts the run at the next step boundary and releases the pump. Any
// undelivered checkpoint is discarded.
func (d *Driver) Stop() {
	_ = d.exec.Context().RequestPause()
	d.quitOnce.Do(func() { close(d.quit) })
}

// Wait blocks until the pump goroutine exits and returns the run error, if
// any.
func (d *Driver) Wait() error {
	<-d.done
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Driver) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}
