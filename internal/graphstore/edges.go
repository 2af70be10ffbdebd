package graphstore

import (
	"encoding/json"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/access-cli/internal/graph"
)

// EdgeLine is the geometry of one graph edge.
type EdgeLine struct {
	U    string
	V    string
	Line *geom.LineString
}

// ReadEdgeGeoJSON parses a FeatureCollection of LineString or
// MultiLineString features tagged with "u" and "v" node ids. Multi-part
// features yield one EdgeLine per part.
func ReadEdgeGeoJSON(r io.Reader) ([]EdgeLine, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "edges: read")
	}
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "edges: decode feature collection")
	}

	out := make([]EdgeLine, 0, len(fc.Features))
	for i, f := range fc.Features {
		u, err := nodeRef(f.Properties, "u")
		if err != nil {
			return nil, eris.Wrapf(err, "edges: feature %d", i)
		}
		v, err := nodeRef(f.Properties, "v")
		if err != nil {
			return nil, eris.Wrapf(err, "edges: feature %d", i)
		}

		switch g := f.Geometry.(type) {
		case *geom.LineString:
			out = append(out, EdgeLine{U: u, V: v, Line: g})
		case *geom.MultiLineString:
			for j := 0; j < g.NumLineStrings(); j++ {
				out = append(out, EdgeLine{U: u, V: v, Line: g.LineString(j)})
			}
		default:
			return nil, eris.Errorf("edges: feature %d has unsupported geometry %T", i, f.Geometry)
		}
	}
	return out, nil
}

// StraightEdges derives edge geometries as straight segments between node
// coordinates, for graphs shipped without an edge file.
func StraightEdges(g *graph.Graph) []EdgeLine {
	out := make([]EdgeLine, 0, len(g.Edges()))
	for _, e := range g.Edges() {
		a, _ := g.Node(e.U)
		b, _ := g.Node(e.V)
		out = append(out, EdgeLine{
			U:    e.U,
			V:    e.V,
			Line: geom.NewLineStringFlat(geom.XY, []float64{a.Lon, a.Lat, b.Lon, b.Lat}),
		})
	}
	return out
}

// nodeRef reads a node id property that may be encoded as a string or a
// JSON number.
func nodeRef(props map[string]interface{}, key string) (string, error) {
	raw, ok := props[key]
	if !ok || raw == nil {
		return "", eris.Errorf("missing %q property", key)
	}
	switch v := raw.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case json.Number:
		return v.String(), nil
	default:
		return "", eris.Errorf("property %q has unsupported type %T", key, raw)
	}
}
