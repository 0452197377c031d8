package graph

import (
	"context"

	"github.com/braidbuild/braid/internal/ctxlog"
	"github.com/braidbuild/braid/internal/plan"
	"github.com/braidbuild/braid/internal/refs"
)

// Build constructs the static dependency graph for a plan. Edges come
// from two places: target names referenced by each command expression,
// and the dimension names declared by a dynamic target's transform.
// It returns *UnknownReferenceError for references to undeclared names
// and *CycleError when the resulting graph is not acyclic; both are
// reported before any target executes.
func Build(ctx context.Context, p *plan.Plan) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	g := New()

	for _, t := range p.Targets {
		g.AddNode(t.Name)
	}

	for _, t := range p.Targets {
		deps := refs.Referenced(t.Command)
		if t.Transform != nil {
			deps = append(deps, t.Transform.Over...)
			if t.Transform.By != "" {
				deps = append(deps, t.Transform.By)
			}
			// Trace is constrained to be one of the Over dims, so it
			// adds no edge of its own.
		}

		for _, dep := range deps {
			if !p.Has(dep) {
				return nil, &UnknownReferenceError{Target: t.Name, Ref: dep}
			}
			if dep == t.Name {
				return nil, &CycleError{Members: []string{t.Name}}
			}
			if err := g.AddEdge(dep, t.Name); err != nil {
				return nil, err
			}
			logger.Debug("Linked dependency.", "from", dep, "to", t.Name)
		}
	}

	if err := g.DetectCycles(); err != nil {
		return nil, err
	}
	logger.Debug("Dependency graph built.", "nodes", len(p.Targets))
	return g, nil
}
