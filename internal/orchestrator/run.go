package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cryguy/tickrun/internal/core"
	"github.com/cryguy/tickrun/internal/sandbox"
)

// Stage is a step of one run.
type Stage string

const (
	StageIdle         Stage = "idle"
	StageLoading      Stage = "loading"
	StageContextReady Stage = "context_ready"
	StageExecuting    Stage = "executing"
	StageCollecting   Stage = "collecting"
	StageCommitting   Stage = "committing"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

var transitions = map[Stage][]Stage{
	StageIdle:         {StageLoading},
	StageLoading:      {StageContextReady},
	StageContextReady: {StageExecuting},
	StageExecuting:    {StageCollecting},
	StageCollecting:   {StageCommitting},
	StageCommitting:   {StageDone},
}

// Run tracks one invocation through its stages.
type Run struct {
	ID       string
	TenantID string

	mu      sync.Mutex
	stage   Stage
	history []Stage
	aborted bool
	ctx     *sandbox.Context
	cause   error

	root  trace.Span
	span  trace.Span
	trace trace.Tracer
	tctx  context.Context
}

func newRun(ctx context.Context, tracer trace.Tracer, id, tenantID string) (*Run, context.Context) {
	ctx, root := tracer.Start(ctx, "tickrun.run", trace.WithAttributes(
		attribute.String("tickrun.run_id", id),
		attribute.String("tickrun.tenant_id", tenantID),
	))
	r := &Run{
		ID:       id,
		TenantID: tenantID,
		stage:    StageIdle,
		history:  []Stage{StageIdle},
		root:     root,
		trace:    tracer,
		tctx:     ctx,
	}
	return r, ctx
}

// Stage is the current stage.
func (r *Run) Stage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// History lists every stage entered, in order.
func (r *Run) History() []Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Stage(nil), r.history...)
}

// Cause is the error that failed the run, if any.
func (r *Run) Cause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cause
}

// advance moves to the next stage. It fails with core.ErrAborted once the
// watchdog has fired.
func (r *Run) advance(to Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborted {
		return core.ErrAborted
	}
	ok := false
	for _, s := range transitions[r.stage] {
		if s == to {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("invalid run transition %s -> %s", r.stage, to)
	}
	r.enter(to)
	return nil
}

// fail moves to StageFailed from any stage. Only the first cause sticks.
func (r *Run) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stage == StageFailed || r.stage == StageDone {
		return
	}
	r.cause = err
	r.enter(StageFailed)
	if r.span != nil {
		r.span.RecordError(err)
	}
}

func (r *Run) enter(to Stage) {
	if r.span != nil {
		r.span.End()
		r.span = nil
	}
	r.stage = to
	r.history = append(r.history, to)
	if to != StageDone && to != StageFailed {
		_, r.span = r.trace.Start(r.tctx, "tickrun."+string(to))
	}
}

func (r *Run) setContext(c *sandbox.Context) {
	r.mu.Lock()
	r.ctx = c
	r.mu.Unlock()
}

// abort marks the run aborted unless it is already committing or finished.
// It returns the stage it interrupted and the context in use.
func (r *Run) abort() (Stage, *sandbox.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.stage {
	case StageCommitting, StageDone, StageFailed:
		return r.stage, nil, false
	}
	r.aborted = true
	return r.stage, r.ctx, true
}

func (r *Run) isAborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

func (r *Run) end() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.span != nil {
		r.span.End()
		r.span = nil
	}
	if r.cause != nil {
		r.root.RecordError(r.cause)
		r.root.SetStatus(codes.Error, r.cause.Error())
	}
	r.root.End()
}
