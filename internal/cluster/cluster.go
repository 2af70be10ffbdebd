// Package cluster groups nearby points with a single greedy pass: points are
// visited in ID order, each unclaimed point gathers the unclaimed points
// within a radius, and groups of at least the minimum size claim their
// members and emit their mean as a centroid.
//
// The pass never revisits or merges groups, so every point belongs to at most
// one centroid and the output depends only on the IDs and coordinates.
package cluster

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"
	"github.com/rotisserie/eris"

	"github.com/sells-group/access-cli/internal/failure"
	"github.com/sells-group/access-cli/internal/model"
	"github.com/sells-group/access-cli/internal/projection"
)

// Defaults used for residential buildings.
const (
	DefaultRadius  = 200.0
	DefaultMinSize = 3
)

// Point is an input point in a planar metric frame.
type Point struct {
	ID int
	X  float64
	Y  float64
}

// Group is an emitted cluster in the planar frame. Members holds point IDs in
// ascending order.
type Group struct {
	X       float64
	Y       float64
	Members []int
}

// Centroid is an emitted cluster in WGS84.
type Centroid struct {
	Point   model.Point `json:"point"`
	Members []int       `json:"members"`
}

// Size returns the member count.
func (c Centroid) Size() int { return len(c.Members) }

type indexed struct {
	pos int
	p   orb.Point
}

func (i indexed) Point() orb.Point { return i.p }

// Cluster runs the greedy pass over points. Input order does not matter;
// points are sorted by ID (then coordinates) first.
func Cluster(points []Point, radius float64, minSize int) ([]Group, error) {
	if radius <= 0 || math.IsNaN(radius) || math.IsInf(radius, 0) {
		return nil, failure.Newf(failure.InvalidParameter, "cluster radius must be positive, got %v", radius)
	}
	if minSize < 1 {
		return nil, failure.Newf(failure.InvalidParameter, "cluster min size must be at least 1, got %d", minSize)
	}
	if len(points) == 0 {
		return nil, nil
	}

	pts := append([]Point(nil), points...)
	sort.SliceStable(pts, func(a, b int) bool {
		if pts[a].ID != pts[b].ID {
			return pts[a].ID < pts[b].ID
		}
		if pts[a].X != pts[b].X {
			return pts[a].X < pts[b].X
		}
		return pts[a].Y < pts[b].Y
	})

	bound := orb.Bound{Min: orb.Point{pts[0].X, pts[0].Y}, Max: orb.Point{pts[0].X, pts[0].Y}}
	for _, p := range pts {
		bound = bound.Extend(orb.Point{p.X, p.Y})
	}
	tree := quadtree.New(bound.Pad(radius + 1))
	for i, p := range pts {
		if err := tree.Add(indexed{pos: i, p: orb.Point{p.X, p.Y}}); err != nil {
			return nil, eris.Wrapf(err, "cluster: index point %d", p.ID)
		}
	}

	claimed := make([]bool, len(pts))
	var groups []Group
	var buf []orb.Pointer
	r2 := radius * radius

	for i, p := range pts {
		if claimed[i] {
			continue
		}
		buf = tree.InBound(buf[:0], orb.Bound{
			Min: orb.Point{p.X - radius, p.Y - radius},
			Max: orb.Point{p.X + radius, p.Y + radius},
		})

		var members []int
		for _, found := range buf {
			n := found.(indexed)
			if claimed[n.pos] {
				continue
			}
			dx, dy := n.p[0]-p.X, n.p[1]-p.Y
			if dx*dx+dy*dy <= r2 {
				members = append(members, n.pos)
			}
		}
		if len(members) < minSize {
			continue
		}

		sort.Ints(members)
		g := Group{Members: make([]int, len(members))}
		var sx, sy float64
		for k, pos := range members {
			claimed[pos] = true
			sx += pts[pos].X
			sy += pts[pos].Y
			g.Members[k] = pts[pos].ID
		}
		g.X = sx / float64(len(members))
		g.Y = sy / float64(len(members))
		groups = append(groups, g)
	}
	return groups, nil
}

// ClusterSites clusters WGS84 sites in the UTM frame of their mean position
// and returns centroids in WGS84.
func ClusterSites(sites []model.Site, radius float64, minSize int) ([]Centroid, error) {
	if len(sites) == 0 {
		if _, err := Cluster(nil, radius, minSize); err != nil {
			return nil, err
		}
		return nil, nil
	}

	lonLat := make([][2]float64, len(sites))
	for i, s := range sites {
		lonLat[i] = [2]float64{s.Point.Lon, s.Point.Lat}
	}
	frame, err := projection.FrameForPoints(lonLat)
	if err != nil {
		return nil, eris.Wrap(err, "cluster: select frame")
	}

	pts := make([]Point, len(sites))
	for i, s := range sites {
		x, y := frame.Forward(s.Point.Lon, s.Point.Lat)
		pts[i] = Point{ID: s.ID, X: x, Y: y}
	}
	groups, err := Cluster(pts, radius, minSize)
	if err != nil {
		return nil, err
	}

	out := make([]Centroid, len(groups))
	for i, g := range groups {
		lon, lat := frame.Inverse(g.X, g.Y)
		out[i] = Centroid{Point: model.Point{Lon: lon, Lat: lat}, Members: g.Members}
	}
	return out, nil
}
