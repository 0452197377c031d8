// Package engine is the library boundary of braid: it validates a
// plan, builds the static dependency graph, executes everything
// through the scheduler and exposes the stored results to the caller.
package engine

import (
	"context"

	"github.com/zclconf/go-cty/cty/function"

	"github.com/braidbuild/braid/internal/ctxlog"
	"github.com/braidbuild/braid/internal/exec"
	"github.com/braidbuild/braid/internal/graph"
	"github.com/braidbuild/braid/internal/plan"
	"github.com/braidbuild/braid/internal/store"
)

// Engine executes plans against a result store. The same engine (and
// store) can run many plans, or the same plan repeatedly; unchanged
// targets are reused instead of recomputed.
type Engine struct {
	store   store.Store
	funcs   map[string]function.Function
	workers int
}

// New creates an engine. funcs is the host's registry of opaque
// callables available to command expressions; the engine never
// interprets what they compute.
func New(st store.Store, funcs map[string]function.Function, workers int) *Engine {
	return &Engine{store: st, funcs: funcs, workers: workers}
}

// Store exposes the engine's result store.
func (e *Engine) Store() store.Store { return e.store }

// Run executes the plan to completion and reports every node's
// terminal status.
//
// Plan-level problems — cycles (*graph.CycleError) and references to
// undeclared targets (*graph.UnknownReferenceError) — are returned as
// errors before any target executes. Failures of individual targets do
// not produce an error here: they are recorded in the report, together
// with the transitively skipped downstream targets, so the caller can
// distinguish "attempted and failed" from "never attempted".
func (e *Engine) Run(ctx context.Context, p *plan.Plan) (*Report, error) {
	logger := ctxlog.FromContext(ctx)

	g, err := graph.Build(ctx, p)
	if err != nil {
		return nil, err
	}

	executor, err := exec.New(p, g, e.store, e.funcs, e.workers)
	if err != nil {
		return nil, err
	}

	logger.Info("🚀 Starting run", "targets", len(p.Targets), "workers", e.workers)
	if err := executor.Run(ctx); err != nil {
		return nil, err
	}

	report := newReport(executor.Nodes())
	logger.Info("🏁 Run finished",
		"done", report.Count(exec.Done),
		"failed", report.Count(exec.Failed),
		"skipped", report.Count(exec.Skipped))
	return report, nil
}
