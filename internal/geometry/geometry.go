// Package geometry wraps the GEOS operations the engine needs (union, buffer,
// simplify, containment, centroid) behind go-geom types. Geometries cross into
// GEOS as WKB; every call uses its own GEOS context so callers may run in
// parallel.
package geometry

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geos"

	"github.com/sells-group/access-cli/internal/model"
)

// bufferQuadSegs is the number of segments per quarter circle used when
// thickening lines.
const bufferQuadSegs = 16

// toGEOS converts a go-geom geometry into a GEOS geometry owned by ctx.
func toGEOS(ctx *geos.Context, g geom.T) (*geos.Geom, error) {
	data, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: encode wkb")
	}
	gg, err := ctx.NewGeomFromWKB(data)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: decode wkb into geos")
	}
	return gg, nil
}

// fromGEOS converts a GEOS geometry back into go-geom.
func fromGEOS(gg *geos.Geom) (geom.T, error) {
	g, err := wkb.Unmarshal(gg.ToWKB())
	if err != nil {
		return nil, eris.Wrap(err, "geometry: decode geos wkb")
	}
	return g, nil
}

// BufferLines merges planar line strings into one network, thickens it by
// radius and, when tolerance > 0, simplifies the result while preserving
// topology. Coordinates are in the caller's planar frame.
func BufferLines(lines []*geom.LineString, radius, tolerance float64) (geom.T, error) {
	if len(lines) == 0 {
		return nil, eris.New("geometry: no lines to buffer")
	}
	if radius <= 0 {
		return nil, eris.Errorf("geometry: buffer radius must be positive, got %v", radius)
	}

	mls := geom.NewMultiLineString(geom.XY)
	for i, ls := range lines {
		if ls == nil || ls.NumCoords() < 2 {
			continue
		}
		if err := mls.Push(flatten2D(ls)); err != nil {
			return nil, eris.Wrapf(err, "geometry: push line %d", i)
		}
	}
	if mls.NumLineStrings() == 0 {
		return nil, eris.New("geometry: every line is degenerate")
	}

	ctx := geos.NewContext()
	network, err := toGEOS(ctx, mls)
	if err != nil {
		return nil, err
	}

	area := network.UnaryUnion().Buffer(radius, bufferQuadSegs)
	if tolerance > 0 {
		area = area.TopologyPreserveSimplify(tolerance)
	}
	if area.IsEmpty() {
		return nil, eris.New("geometry: buffered network is empty")
	}
	return fromGEOS(area)
}

// BufferPoint returns a planar disc of the given radius around (x, y).
func BufferPoint(x, y, radius float64) (geom.T, error) {
	ctx := geos.NewContext()
	pt, err := toGEOS(ctx, geom.NewPointFlat(geom.XY, []float64{x, y}))
	if err != nil {
		return nil, err
	}
	return fromGEOS(pt.Buffer(radius, bufferQuadSegs))
}

// Covers reports whether area contains the other geometry entirely.
func Covers(area, other geom.T) (bool, error) {
	ctx := geos.NewContext()
	a, err := toGEOS(ctx, area)
	if err != nil {
		return false, err
	}
	o, err := toGEOS(ctx, other)
	if err != nil {
		return false, err
	}
	return a.Contains(o), nil
}

// ContainsPoints tests each point against area using GEOS "contains"
// semantics (points on the boundary are outside).
func ContainsPoints(area geom.T, pts []model.Point) ([]bool, error) {
	return testPoints(area, pts, func(pg *geos.PrepGeom, p *geos.Geom) bool {
		return pg.Contains(p)
	})
}

// IntersectsPoints tests each point against area using "intersects"
// semantics (boundary points count).
func IntersectsPoints(area geom.T, pts []model.Point) ([]bool, error) {
	return testPoints(area, pts, func(pg *geos.PrepGeom, p *geos.Geom) bool {
		return pg.Intersects(p)
	})
}

// ContainsPoint reports whether a single point lies inside area.
func ContainsPoint(area geom.T, p model.Point) (bool, error) {
	res, err := ContainsPoints(area, []model.Point{p})
	if err != nil {
		return false, err
	}
	return res[0], nil
}

func testPoints(area geom.T, pts []model.Point, pred func(*geos.PrepGeom, *geos.Geom) bool) ([]bool, error) {
	out := make([]bool, len(pts))
	if len(pts) == 0 {
		return out, nil
	}
	if area == nil {
		return nil, eris.New("geometry: nil area")
	}

	ctx := geos.NewContext()
	a, err := toGEOS(ctx, area)
	if err != nil {
		return nil, err
	}
	prepared := a.Prepare()
	for i, p := range pts {
		out[i] = pred(prepared, ctx.NewPoint([]float64{p.Lon, p.Lat}))
	}
	return out, nil
}

// Centroid returns the centroid of any non-empty geometry.
func Centroid(g geom.T) (model.Point, error) {
	if g == nil {
		return model.Point{}, eris.New("geometry: nil geometry")
	}
	if pt, ok := g.(*geom.Point); ok {
		return model.Point{Lon: pt.X(), Lat: pt.Y()}, nil
	}

	ctx := geos.NewContext()
	gg, err := toGEOS(ctx, g)
	if err != nil {
		return model.Point{}, err
	}
	if gg.IsEmpty() {
		return model.Point{}, eris.New("geometry: centroid of empty geometry")
	}
	c, err := fromGEOS(gg.Centroid())
	if err != nil {
		return model.Point{}, err
	}
	pt, ok := c.(*geom.Point)
	if !ok {
		return model.Point{}, eris.Errorf("geometry: centroid returned %T", c)
	}
	return model.Point{Lon: pt.X(), Lat: pt.Y()}, nil
}

// flatten2D drops any Z/M ordinates so every line shares the XY layout.
func flatten2D(ls *geom.LineString) *geom.LineString {
	if ls.Layout() == geom.XY {
		return ls
	}
	stride := ls.Stride()
	src := ls.FlatCoords()
	flat := make([]float64, 0, len(src)/stride*2)
	for i := 0; i+1 < len(src); i += stride {
		flat = append(flat, src[i], src[i+1])
	}
	return geom.NewLineStringFlat(geom.XY, flat)
}

// Transform applies fn to every XY coordinate of a point, line or polygon
// geometry and returns a new XY geometry of the same type.
func Transform(g geom.T, fn func(x, y float64) (float64, float64)) (geom.T, error) {
	switch t := g.(type) {
	case *geom.Point:
		return geom.NewPointFlat(geom.XY, mapFlat(t.FlatCoords(), t.Stride(), fn)), nil
	case *geom.MultiPoint:
		return geom.NewMultiPointFlat(geom.XY, mapFlat(t.FlatCoords(), t.Stride(), fn)), nil
	case *geom.LineString:
		return geom.NewLineStringFlat(geom.XY, mapFlat(t.FlatCoords(), t.Stride(), fn)), nil
	case *geom.MultiLineString:
		return geom.NewMultiLineStringFlat(geom.XY, mapFlat(t.FlatCoords(), t.Stride(), fn), rescale(t.Ends(), t.Stride())), nil
	case *geom.Polygon:
		return geom.NewPolygonFlat(geom.XY, mapFlat(t.FlatCoords(), t.Stride(), fn), rescale(t.Ends(), t.Stride())), nil
	case *geom.MultiPolygon:
		endss := make([][]int, len(t.Endss()))
		for i, ends := range t.Endss() {
			endss[i] = rescale(ends, t.Stride())
		}
		return geom.NewMultiPolygonFlat(geom.XY, mapFlat(t.FlatCoords(), t.Stride(), fn), endss), nil
	default:
		return nil, eris.Errorf("geometry: cannot transform %T", g)
	}
}

func mapFlat(src []float64, stride int, fn func(x, y float64) (float64, float64)) []float64 {
	out := make([]float64, 0, len(src)/stride*2)
	for i := 0; i+1 < len(src); i += stride {
		x, y := fn(src[i], src[i+1])
		out = append(out, x, y)
	}
	return out
}

// rescale converts end offsets of a stride-n layout to the XY layout.
func rescale(ends []int, stride int) []int {
	out := make([]int, len(ends))
	for i, e := range ends {
		out[i] = e / stride * 2
	}
	return out
}
