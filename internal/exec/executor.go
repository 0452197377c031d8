package exec

import (
	"context"
	"fmt"
	"sync"

	"github.com/zclconf/go-cty/cty/function"

	"github.com/braidbuild/braid/internal/ctxlog"
	"github.com/braidbuild/braid/internal/graph"
	"github.com/braidbuild/braid/internal/plan"
	"github.com/braidbuild/braid/internal/store"
)

// Executor runs a plan's nodes concurrently, respecting the static
// dependency graph plus the fine-grained edges added by expansion.
type Executor struct {
	plan    *plan.Plan
	graph   *graph.Graph
	store   store.Store
	funcs   map[string]function.Function
	workers int

	nodesMu sync.RWMutex
	nodes   map[string]*Node

	wg    sync.WaitGroup
	ready chan *Node
}

// New builds an executor over a validated plan and its dependency
// graph. workers caps concurrent command evaluation; values below one
// are raised to one.
func New(p *plan.Plan, g *graph.Graph, st store.Store, funcs map[string]function.Function, workers int) (*Executor, error) {
	if workers < 1 {
		workers = 1
	}
	e := &Executor{
		plan:    p,
		graph:   g,
		store:   st,
		funcs:   funcs,
		workers: workers,
		nodes:   make(map[string]*Node, len(p.Targets)),
	}

	for _, t := range p.Targets {
		e.nodes[t.Name] = newNode(t)
	}
	for _, t := range p.Targets {
		node := e.nodes[t.Name]
		deps, err := g.Dependencies(t.Name)
		if err != nil {
			return nil, err
		}
		for _, dep := range deps {
			depNode, ok := e.nodes[dep]
			if !ok {
				return nil, fmt.Errorf("graph references unknown target %q", dep)
			}
			node.Deps[dep] = depNode
			depNode.Dependents[t.Name] = node
		}
		node.depCount.Store(int32(len(node.Deps)))
	}
	return e, nil
}

// Run executes every node to a terminal state. It returns an error
// only for scheduler-level problems; per-node failures are recorded on
// the nodes themselves and surfaced through the run report.
func (e *Executor) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	e.ready = make(chan *Node, len(e.nodes)+1)

	rootCount := 0
	for _, node := range e.nodes {
		if node.depCount.Load() == 0 {
			e.enqueue(node)
			rootCount++
		}
	}
	logger.Debug("Executor initialized.", "nodes", len(e.nodes), "roots", rootCount, "workers", e.workers)

	e.wg.Add(len(e.nodes))
	for i := 0; i < e.workers; i++ {
		go e.worker(ctx, i)
	}

	e.wg.Wait()
	close(e.ready)
	logger.Debug("All nodes reached a terminal state.")
	return nil
}

// Nodes returns every node (including sub-targets discovered during
// the run) in deterministic order: plan declaration order, with a
// dynamic target's sub-targets listed directly after it by index.
func (e *Executor) Nodes() []*Node {
	e.nodesMu.RLock()
	defer e.nodesMu.RUnlock()

	out := make([]*Node, 0, len(e.nodes))
	for _, t := range e.plan.Targets {
		node := e.nodes[t.Name]
		out = append(out, node)
		out = append(out, node.subs...)
	}
	return out
}

// Node looks up a node by ID (target name, or "name[i]" for subs).
func (e *Executor) Node(id string) (*Node, bool) {
	e.nodesMu.RLock()
	defer e.nodesMu.RUnlock()
	n, ok := e.nodes[id]
	return n, ok
}

// enqueue moves a Pending node to Ready and puts it on the ready
// channel. The compare-and-swap loses against a concurrent skip, which
// is exactly the desired outcome: skipped nodes are never dispatched.
func (e *Executor) enqueue(n *Node) {
	if !n.state.CompareAndSwap(int32(Pending), int32(Ready)) {
		return
	}
	select {
	case e.ready <- n:
	default:
		// Sub-targets can outnumber the channel's initial capacity;
		// spill to a goroutine rather than blocking the worker.
		go func() { e.ready <- n }()
	}
}

// worker is the core processing loop for a single concurrent worker.
func (e *Executor) worker(ctx context.Context, workerID int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for node := range e.ready {
		if !node.state.CompareAndSwap(int32(Ready), int32(Running)) {
			// Skipped while queued.
			continue
		}
		workerLogger := logger.With("workerID", workerID, "node", node.ID)

		if ctx.Err() != nil {
			err := ctx.Err()
			node.skip(err, e.wg.Done)
			e.skipDependents(ctx, node, err)
			continue
		}

		var err error
		terminal := true

		switch node.Kind {
		case KindStatic:
			err = e.runStatic(ctx, node)
		case KindSub:
			err = e.runSub(ctx, node)
		case KindDynamic:
			if node.phase == phaseExpand {
				var subs []*Node
				subs, err = e.expandDynamic(ctx, node)
				if err == nil {
					node.phase = phaseAggregate
					if len(subs) == 0 {
						// Nothing to branch over; aggregate the empty
						// result immediately.
						err = e.aggregate(ctx, node)
					} else {
						// The node re-enters the ready channel once
						// every sub-target has finished.
						terminal = false
						node.setState(Pending)
						node.depCount.Store(int32(len(subs)))
						e.wg.Add(len(subs))
						for _, sub := range subs {
							e.enqueue(sub)
						}
						workerLogger.Info("🔀 Expanded dynamic target", "subTargets", len(subs))
					}
				}
			} else {
				err = e.aggregate(ctx, node)
			}
		}

		if !terminal {
			continue
		}

		if err != nil {
			workerLogger.Error("Node execution failed.", "error", err)
			node.Err = err
			node.setState(Failed)
			e.skipDependents(ctx, node, err)
			e.wg.Done()
			continue
		}

		node.setState(Done)
		e.unlockDependents(node)
		e.wg.Done()
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}

// unlockDependents releases dependents whose last dependency just
// completed.
func (e *Executor) unlockDependents(node *Node) {
	for _, dependent := range node.Dependents {
		if dependent.depCount.Add(-1) == 0 {
			e.enqueue(dependent)
		}
	}
}

// skipDependents transitively marks all downstream nodes Skipped. A
// skipped node never executes, so propagation also releases its
// wait-group slot.
func (e *Executor) skipDependents(ctx context.Context, node *Node, cause error) {
	logger := ctxlog.FromContext(ctx)
	for _, dependent := range node.Dependents {
		reason := fmt.Errorf("skipped: upstream %q did not complete: %w", node.ID, cause)
		if dependent.skip(reason, e.wg.Done) {
			logger.Warn("⏭️ Skipping node due to upstream failure.", "node", dependent.ID, "upstream", node.ID)
			e.skipDependents(ctx, dependent, cause)
		}
	}
}

// registerSub adds a freshly expanded sub-target node to the node set.
func (e *Executor) registerSub(owner *Node, sub *Node) {
	e.nodesMu.Lock()
	defer e.nodesMu.Unlock()
	e.nodes[sub.ID] = sub
	owner.subs = append(owner.subs, sub)
}
