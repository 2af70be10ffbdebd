package graph

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"
	"github.com/rotisserie/eris"

	"github.com/sells-group/access-cli/internal/projection"
)

type indexedNode struct {
	id string
	p  orb.Point
}

func (n indexedNode) Point() orb.Point { return n.p }

// NodeIndex answers nearest-node queries in a planar frame.
type NodeIndex struct {
	frame projection.Frame
	tree  *quadtree.Quadtree
	size  int
}

// NewNodeIndex indexes every node of g projected into frame.
func NewNodeIndex(g *Graph, frame projection.Frame) (*NodeIndex, error) {
	if g == nil || g.Len() == 0 {
		return nil, eris.New("graph: cannot index an empty graph")
	}

	pts := make([]indexedNode, 0, g.Len())
	bound := orb.Bound{
		Min: orb.Point{math.Inf(1), math.Inf(1)},
		Max: orb.Point{math.Inf(-1), math.Inf(-1)},
	}
	for _, n := range g.nodes {
		x, y := frame.Forward(n.Lon, n.Lat)
		p := orb.Point{x, y}
		bound = bound.Extend(p)
		pts = append(pts, indexedNode{id: n.ID, p: p})
	}

	tree := quadtree.New(bound.Pad(1))
	for _, p := range pts {
		if err := tree.Add(p); err != nil {
			return nil, eris.Wrapf(err, "graph: index node %q", p.id)
		}
	}
	return &NodeIndex{frame: frame, tree: tree, size: len(pts)}, nil
}

// Frame returns the planar frame the index was built in.
func (ix *NodeIndex) Frame() projection.Frame { return ix.frame }

// Len returns the number of indexed nodes.
func (ix *NodeIndex) Len() int { return ix.size }

// Nearest returns the id of the node closest to (lon, lat) and its planar
// distance in meters.
func (ix *NodeIndex) Nearest(lon, lat float64) (string, float64, error) {
	x, y := ix.frame.Forward(lon, lat)
	q := orb.Point{x, y}
	found := ix.tree.Find(q)
	if found == nil {
		return "", 0, eris.New("graph: nearest node lookup on empty index")
	}
	n := found.(indexedNode)
	return n.id, math.Hypot(n.p[0]-q[0], n.p[1]-q[1]), nil
}
