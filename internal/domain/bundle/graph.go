package bundle

import (
	"sort"

	"github.com/google/uuid"
)

// Graph is the product-level composition graph: an arc bundle -> component
// for every composition edge. Only composite products have outgoing arcs.
type Graph struct {
	adj map[uuid.UUID][]uuid.UUID
}

// NewGraph builds a graph from an adjacency map. The map is copied.
func NewGraph(adjacency map[uuid.UUID][]uuid.UUID) *Graph {
	g := &Graph{adj: make(map[uuid.UUID][]uuid.UUID, len(adjacency))}
	for from, tos := range adjacency {
		g.adj[from] = append([]uuid.UUID(nil), tos...)
	}
	return g
}

// SetComponents replaces the outgoing arcs of bundle, the way a pending
// createBundle/updateEdges would once committed.
func (g *Graph) SetComponents(bundleID uuid.UUID, components []uuid.UUID) {
	if len(components) == 0 {
		delete(g.adj, bundleID)
		return
	}
	g.adj[bundleID] = append([]uuid.UUID(nil), components...)
}

// Components returns the outgoing arcs of a node
func (g *Graph) Components(id uuid.UUID) []uuid.UUID {
	return g.adj[id]
}

const (
	unvisited = iota
	onPath
	done
)

// FindCycle runs a depth-first search from every node that has outgoing
// arcs, tracking the nodes on the current path. It returns the first cycle
// found as [n0, n1, ..., n0], or nil when the graph is acyclic.
//
// Roots listed in startFirst are explored before the rest, so a cycle
// introduced by a pending change is reported starting at the changed bundle.
// Remaining roots and each adjacency list are visited in id order, which makes
// the result deterministic.
func (g *Graph) FindCycle(startFirst ...uuid.UUID) []uuid.UUID {
	state := make(map[uuid.UUID]int, len(g.adj))
	var stack []uuid.UUID

	var visit func(n uuid.UUID) []uuid.UUID
	visit = func(n uuid.UUID) []uuid.UUID {
		state[n] = onPath
		stack = append(stack, n)

		next := append([]uuid.UUID(nil), g.adj[n]...)
		sort.Slice(next, func(i, j int) bool { return lessUUID(next[i], next[j]) })
		for _, m := range next {
			switch state[m] {
			case onPath:
				return cyclePath(stack, m)
			case unvisited:
				if cycle := visit(m); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[n] = done
		return nil
	}

	roots := make([]uuid.UUID, 0, len(g.adj))
	for n := range g.adj {
		roots = append(roots, n)
	}
	sort.Slice(roots, func(i, j int) bool { return lessUUID(roots[i], roots[j]) })
	roots = append(append([]uuid.UUID(nil), startFirst...), roots...)

	for _, r := range roots {
		if state[r] != unvisited {
			continue
		}
		if cycle := visit(r); cycle != nil {
			return cycle
		}
	}
	return nil
}

// cyclePath slices the DFS stack from the first occurrence of m and closes
// the loop by repeating m.
func cyclePath(stack []uuid.UUID, m uuid.UUID) []uuid.UUID {
	for i, n := range stack {
		if n == m {
			path := append([]uuid.UUID(nil), stack[i:]...)
			return append(path, m)
		}
	}
	return []uuid.UUID{m, m}
}

// IsCycle reports whether path is a closed walk along arcs of g
func (g *Graph) IsCycle(path []uuid.UUID) bool {
	if len(path) < 2 || path[0] != path[len(path)-1] {
		return false
	}
	for i := 0; i+1 < len(path); i++ {
		found := false
		for _, m := range g.adj[path[i]] {
			if m == path[i+1] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
