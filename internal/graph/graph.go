// Package graph builds and validates the static dependency graph of a
// plan: nodes are target names, an edge A -> B means B must execute
// after A.
package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Graph is a directed acyclic graph over target names. All operations
// are concurrency-safe.
type Graph struct {
	mutex sync.RWMutex
	nodes map[string]*node
}

// node is un-exported to force interaction through string IDs rather
// than direct struct manipulation.
type node struct {
	id         string
	deps       map[string]*node
	dependents map[string]*node
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

// AddNode adds a node with the given ID. Adding an existing ID is a
// no-op.
func (g *Graph) AddNode(id string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = &node{
		id:         id,
		deps:       make(map[string]*node),
		dependents: make(map[string]*node),
	}
}

// AddEdge creates a directed edge from fromID to toID, meaning toID
// depends on fromID. An error is returned if either node does not
// exist or the edge would be self-referential.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromID, fromID)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}
	toNode, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}

	toNode.deps[fromID] = fromNode
	fromNode.dependents[toID] = toNode
	return nil
}

// Dependencies returns the sorted IDs the given node depends on.
func (g *Graph) Dependencies(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return sortedKeys(n.deps), nil
}

// Dependents returns the sorted IDs that depend on the given node.
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return sortedKeys(n.dependents), nil
}

func sortedKeys(m map[string]*node) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DetectCycles checks the graph for cycles. It returns a *CycleError
// naming the members of the first cycle found, or nil.
func (g *Graph) DetectCycles() error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	// Classic depth-first search with a permanent set for fully
	// explored nodes and an explicit stack so the cycle's member
	// names can be reported.
	permanent := make(map[string]bool)
	onStack := make(map[string]int)
	var stack []string

	var visit func(n *node) *CycleError
	visit = func(n *node) *CycleError {
		if permanent[n.id] {
			return nil
		}
		if pos, ok := onStack[n.id]; ok {
			return &CycleError{Members: append([]string(nil), stack[pos:]...)}
		}

		onStack[n.id] = len(stack)
		stack = append(stack, n.id)

		// Iterate dependents in sorted order so the reported cycle is
		// deterministic.
		for _, id := range sortedKeys(n.dependents) {
			if err := visit(n.dependents[id]); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		delete(onStack, n.id)
		permanent[n.id] = true
		return nil
	}

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !permanent[id] {
			if err := visit(g.nodes[id]); err != nil {
				return err
			}
		}
	}
	return nil
}

// CycleError reports a dependency cycle in the plan. It is fatal and
// detected before any target executes.
type CycleError struct {
	// Members lists the targets participating in the cycle, in
	// traversal order.
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Members, " -> "))
}

// UnknownReferenceError reports a command or transform referencing a
// name not declared in the plan. It is fatal and detected before any
// target executes.
type UnknownReferenceError struct {
	Target string
	Ref    string
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("target %q references unknown target %q", e.Target, e.Ref)
}
