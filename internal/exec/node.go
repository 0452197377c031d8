// Package exec schedules and executes a plan: a worker pool consumes a
// ready channel of nodes, each node runs exactly once, and dynamic
// targets inject their sub-targets into the running graph after their
// dimensions have materialized.
package exec

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zclconf/go-cty/cty"

	"github.com/braidbuild/braid/internal/expand"
	"github.com/braidbuild/braid/internal/plan"
)

// State is the lifecycle state of a node. Every node ends a run in
// exactly one of the terminal states Done, Failed or Skipped.
type State int32

const (
	Pending State = iota
	Ready
	Running
	Done
	Failed
	Skipped
)

// String returns the state name used in reports and logs.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	}
	return "unknown"
}

// Kind discriminates how a node executes.
type Kind int

const (
	// KindStatic evaluates its command once against whole dependency
	// values.
	KindStatic Kind = iota
	// KindDynamic passes through an expansion phase once its
	// dimensions are done, then aggregates its sub-targets' results.
	KindDynamic
	// KindSub is one expanded unit of work belonging to a dynamic
	// target.
	KindSub
)

// dynamic node phases; only the worker executing the node touches the
// field, sequenced through the ready channel.
const (
	phaseExpand = iota
	phaseAggregate
)

// Node is one schedulable unit: a static target, a dynamic target, or
// a sub-target created by expansion.
type Node struct {
	ID     string
	Target *plan.Target
	Kind   Kind

	// Sub and Owner are set for KindSub nodes only.
	Sub   *expand.Sub
	Owner *Node

	Deps       map[string]*Node
	Dependents map[string]*Node

	state    atomic.Int32
	depCount atomic.Int32
	skipOnce sync.Once

	// Err holds the failure or skip reason once terminal.
	Err error
	// Cached reports that the node's stored result was reused without
	// executing its command.
	Cached bool

	// Expansion scratch, populated on a dynamic node before its subs
	// are enqueued and read-only afterwards.
	phase      int
	dimElems   map[string][]cty.Value
	dimFPs     map[string][]string
	subs       []*Node
	cachedSubs atomic.Int32
}

// State returns the node's current lifecycle state.
func (n *Node) State() State {
	return State(n.state.Load())
}

func (n *Node) setState(s State) {
	n.state.Store(int32(s))
}

// skip marks the node Skipped exactly once and releases its wait-group
// slot. It returns true when this call performed the transition.
func (n *Node) skip(reason error, done func()) bool {
	fired := false
	n.skipOnce.Do(func() {
		n.Err = reason
		n.setState(Skipped)
		done()
		fired = true
	})
	return fired
}

// newNode builds a plan-level node (static or dynamic).
func newNode(t *plan.Target) *Node {
	kind := KindStatic
	if t.Dynamic() {
		kind = KindDynamic
	}
	return &Node{
		ID:         t.Name,
		Target:     t,
		Kind:       kind,
		Deps:       make(map[string]*Node),
		Dependents: make(map[string]*Node),
	}
}

// newSubNode builds the node for one expanded sub-target. Its only
// dependent is the owning dynamic node, which aggregates once every
// sub has finished.
func newSubNode(owner *Node, sub *expand.Sub) *Node {
	n := &Node{
		ID:         fmt.Sprintf("%s[%d]", owner.Target.Name, sub.Index),
		Target:     owner.Target,
		Kind:       KindSub,
		Sub:        sub,
		Owner:      owner,
		Deps:       make(map[string]*Node),
		Dependents: map[string]*Node{owner.ID: owner},
	}
	return n
}
