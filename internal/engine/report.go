package engine

import (
	"github.com/braidbuild/braid/internal/exec"
)

// NodeStatus is the terminal outcome of one node: a target, or one
// sub-target of a dynamic target (ID "name[i]").
type NodeStatus struct {
	ID     string
	Status exec.State
	// Cached reports that the stored result was reused without
	// executing the command.
	Cached bool
	// Err carries the failure or skip reason for Failed and Skipped
	// nodes.
	Err error
}

// Report enumerates every node's terminal status after a run, in
// deterministic order: plan declaration order, with a dynamic target's
// sub-targets listed directly after it by index.
type Report struct {
	Statuses []NodeStatus
	byID     map[string]*NodeStatus
}

func newReport(nodes []*exec.Node) *Report {
	r := &Report{
		Statuses: make([]NodeStatus, len(nodes)),
		byID:     make(map[string]*NodeStatus, len(nodes)),
	}
	for i, node := range nodes {
		r.Statuses[i] = NodeStatus{
			ID:     node.ID,
			Status: node.State(),
			Cached: node.Cached,
			Err:    node.Err,
		}
		r.byID[node.ID] = &r.Statuses[i]
	}
	return r
}

// Status looks up the outcome of a node by ID.
func (r *Report) Status(id string) (NodeStatus, bool) {
	s, ok := r.byID[id]
	if !ok {
		return NodeStatus{}, false
	}
	return *s, true
}

// Count returns how many nodes ended in the given state.
func (r *Report) Count(state exec.State) int {
	n := 0
	for _, s := range r.Statuses {
		if s.Status == state {
			n++
		}
	}
	return n
}

// OK reports whether every node completed successfully.
func (r *Report) OK() bool {
	return r.Count(exec.Failed) == 0 && r.Count(exec.Skipped) == 0
}
