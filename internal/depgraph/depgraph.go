// Package depgraph orders workspace members and detects resolver cycles
// using gonum's directed graph and topological sort, the way
// distri's internal/batch orders packages for a build run.
package depgraph

import (
	"sort"

	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

type node struct {
	id   int64
	name string
}

func (n *node) ID() int64 { return n.id }

// Graph orders named items by their declared dependency edges.
type Graph struct {
	g        *simple.DirectedGraph
	byName   map[string]*node
	byID     map[int64]*node
	nextID   int64
}

func New() *Graph {
	return &Graph{
		g:      simple.NewDirectedGraph(),
		byName: make(map[string]*node),
		byID:   make(map[int64]*node),
	}
}

func (dg *Graph) nodeFor(name string) *node {
	if n, ok := dg.byName[name]; ok {
		return n
	}
	n := &node{id: dg.nextID, name: name}
	dg.nextID++
	dg.byName[name] = n
	dg.byID[n.id] = n
	dg.g.AddNode(n)
	return n
}

// AddDependency records that `from` depends on `to`: `to` must be ordered
// before `from`.
func (dg *Graph) AddDependency(from, to string) {
	a := dg.nodeFor(from)
	b := dg.nodeFor(to)
	if a.ID() == b.ID() {
		return
	}
	dg.g.SetEdge(dg.g.NewEdge(b, a)) // edge points dependency -> dependent
}

// TopoOrder returns item names ordered so every dependency precedes its
// dependents, or a cycle error naming the members of every unorderable
// component found.
func (dg *Graph) TopoOrder() ([]string, error) {
	sorted, err := topo.Sort(dg.g)
	if err != nil {
		if uo, ok := err.(topo.Unorderable); ok {
			return nil, xerrors.Errorf("workspace_cycle: %s", describeCycles(uo, dg))
		}
		return nil, xerrors.Errorf("workspace_cycle: %w", err)
	}
	out := make([]string, len(sorted))
	for i, n := range sorted {
		out[i] = n.(*node).name
	}
	return out, nil
}

// HasCycle reports whether the graph contains any cycle, without building
// the full error message TopoOrder would.
func (dg *Graph) HasCycle() bool {
	_, err := topo.Sort(dg.g)
	return err != nil
}

func describeCycles(uo topo.Unorderable, dg *Graph) string {
	var parts []string
	for _, cycle := range uo {
		names := make([]string, len(cycle))
		for i, n := range cycle {
			names[i] = n.(*node).name
		}
		sort.Strings(names)
		parts = append(parts, "["+joinComma(names)+"]")
	}
	sort.Strings(parts)
	return joinComma(parts)
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

var _ graph.Directed = (*simple.DirectedGraph)(nil)
