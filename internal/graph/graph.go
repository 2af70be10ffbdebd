// Package graph holds the immutable routing graph of one travel mode, the
// cost-bounded shortest-path search over it, and the nearest-node index used
// to snap origins.
package graph

import (
	"math"

	"github.com/rotisserie/eris"
)

// Node is a graph vertex with WGS84 coordinates.
type Node struct {
	ID  string
	Lon float64
	Lat float64
}

// Edge is an input edge between two node ids. Weight is travel time in
// seconds.
type Edge struct {
	U      string
	V      string
	Weight float64
}

type arc struct {
	to     int
	weight float64
}

// Graph is a weighted routing graph. It is safe for concurrent reads once
// built.
type Graph struct {
	directed bool
	nodes    []Node
	index    map[string]int
	adj      [][]arc
	edges    []Edge
}

// Builder accumulates nodes and edges and produces a Graph.
type Builder struct {
	directed bool
	nodes    []Node
	index    map[string]int
	edges    []Edge
}

// NewBuilder returns a builder for a directed or undirected graph.
func NewBuilder(directed bool) *Builder {
	return &Builder{directed: directed, index: make(map[string]int)}
}

// AddNode registers a node. Duplicate ids and non-finite coordinates are
// rejected.
func (b *Builder) AddNode(id string, lon, lat float64) error {
	if id == "" {
		return eris.New("graph: empty node id")
	}
	if _, ok := b.index[id]; ok {
		return eris.Errorf("graph: duplicate node %q", id)
	}
	if !finite(lon) || !finite(lat) {
		return eris.Errorf("graph: node %q has non-finite coordinates", id)
	}
	b.index[id] = len(b.nodes)
	b.nodes = append(b.nodes, Node{ID: id, Lon: lon, Lat: lat})
	return nil
}

// AddEdge registers an edge. Both endpoints must already exist.
func (b *Builder) AddEdge(u, v string, weight float64) error {
	if _, ok := b.index[u]; !ok {
		return eris.Errorf("graph: edge %s->%s references unknown node %q", u, v, u)
	}
	if _, ok := b.index[v]; !ok {
		return eris.Errorf("graph: edge %s->%s references unknown node %q", u, v, v)
	}
	if !finite(weight) || weight < 0 {
		return eris.Errorf("graph: edge %s->%s has invalid weight %v", u, v, weight)
	}
	b.edges = append(b.edges, Edge{U: u, V: v, Weight: weight})
	return nil
}

// Build freezes the builder into a Graph. An empty graph is an error.
func (b *Builder) Build() (*Graph, error) {
	if len(b.nodes) == 0 {
		return nil, eris.New("graph: no nodes")
	}
	g := &Graph{
		directed: b.directed,
		nodes:    b.nodes,
		index:    b.index,
		adj:      make([][]arc, len(b.nodes)),
		edges:    b.edges,
	}
	for _, e := range b.edges {
		u, v := g.index[e.U], g.index[e.V]
		g.adj[u] = append(g.adj[u], arc{to: v, weight: e.Weight})
		if !g.directed && u != v {
			g.adj[v] = append(g.adj[v], arc{to: u, weight: e.Weight})
		}
	}
	return g, nil
}

// Directed reports whether edges are one-way.
func (g *Graph) Directed() bool { return g.directed }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Nodes returns the nodes in insertion order. The slice must not be modified.
func (g *Graph) Nodes() []Node { return g.nodes }

// Edges returns the input edges in insertion order. The slice must not be
// modified.
func (g *Graph) Edges() []Edge { return g.edges }

// Node looks up a node by id.
func (g *Graph) Node(id string) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.nodes[i], true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
