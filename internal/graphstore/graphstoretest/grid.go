// Package graphstoretest builds small synthetic road networks for tests.
package graphstoretest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/access-cli/internal/graph"
	"github.com/sells-group/access-cli/internal/graphstore"
	"github.com/sells-group/access-cli/internal/model"
)

// Grid lattice spacing. 0.001 deg of latitude and 0.002 deg of longitude at
// 60N are both roughly 111 m.
const (
	BaseLat  = 60.0
	LonStep  = 0.002
	LatStep  = 0.001
	BaseLon  = 30.0
	EdgeCost = 85.0 // seconds; 111 m at 1.3 m/s
)

// NodeID names the lattice node at column i, row j.
func NodeID(i, j int) string { return fmt.Sprintf("%d_%d", i, j) }

// NodePoint returns the coordinates of lattice node (i, j).
func NodePoint(i, j int) model.Point {
	return model.Point{Lon: BaseLon + float64(i)*LonStep, Lat: BaseLat + float64(j)*LatStep}
}

// Grid returns a handle over an undirected n x n lattice whose edges all cost
// EdgeCost seconds.
func Grid(tb testing.TB, mode model.Mode, n int) *graphstore.Handle {
	tb.Helper()
	b := graph.NewBuilder(false)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			p := NodePoint(i, j)
			require.NoError(tb, b.AddNode(NodeID(i, j), p.Lon, p.Lat))
		}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i+1 < n {
				require.NoError(tb, b.AddEdge(NodeID(i, j), NodeID(i+1, j), EdgeCost))
			}
			if j+1 < n {
				require.NoError(tb, b.AddEdge(NodeID(i, j), NodeID(i, j+1), EdgeCost))
			}
		}
	}
	g, err := b.Build()
	require.NoError(tb, err)
	h, err := graphstore.NewHandle(mode, g, graphstore.StraightEdges(g), graphstore.DefaultProfiles[mode])
	require.NoError(tb, err)
	return h
}

// Store returns a graphstore.Store serving an n x n grid for every mode.
func Store(tb testing.TB, n int) *graphstore.Store {
	tb.Helper()
	return graphstore.New(graphstore.StaticLoader{
		model.ModeWalk:  Grid(tb, model.ModeWalk, n),
		model.ModeDrive: Grid(tb, model.ModeDrive, n),
	})
}

// Isolated returns a handle whose graph is a single node with no edges.
func Isolated(tb testing.TB, mode model.Mode, at model.Point) *graphstore.Handle {
	tb.Helper()
	b := graph.NewBuilder(false)
	require.NoError(tb, b.AddNode("solo", at.Lon, at.Lat))
	g, err := b.Build()
	require.NoError(tb, err)
	h, err := graphstore.NewHandle(mode, g, nil, graphstore.DefaultProfiles[mode])
	require.NoError(tb, err)
	return h
}
