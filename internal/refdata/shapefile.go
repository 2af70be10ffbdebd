package refdata

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// ReadShapefile reads every record of a .shp file with its DBF attributes.
// Unsupported or empty shapes are skipped.
func ReadShapefile(path string) ([]Feature, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.ToLower(strings.TrimRight(f.String(), "\x00"))
	}

	var out []Feature
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		g := shapeToGeom(shape)
		if g == nil {
			skipped++
			continue
		}
		props := make(map[string]string, len(names))
		for i, name := range names {
			props[name] = strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
		}
		out = append(out, Feature{Geometry: g, Properties: props})
	}

	if skipped > 0 {
		zap.L().Debug("refdata: skipped shapefile records", zap.String("path", path), zap.Int("skipped", skipped))
	}
	return out, nil
}

// shapeToGeom converts the shape types reference layers use.
func shapeToGeom(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.MultiPoint:
		if len(s.Points) == 0 {
			return nil
		}
		flat := make([]float64, 0, len(s.Points)*2)
		for _, p := range s.Points {
			flat = append(flat, p.X, p.Y)
		}
		return geom.NewMultiPointFlat(geom.XY, flat)
	case *shp.PolyLine:
		return partsToMultiLineString(s.Parts, s.Points)
	case *shp.Polygon:
		return partsToPolygon(s.Parts, s.Points)
	default:
		return nil
	}
}

// partRanges splits a shapefile point array into its parts.
func partRanges(parts []int32, n int) [][2]int {
	out := make([][2]int, 0, len(parts))
	for i, start := range parts {
		end := n
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if int(start) < end {
			out = append(out, [2]int{int(start), end})
		}
	}
	return out
}

func flatPoints(pts []shp.Point) []float64 {
	flat := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}

func partsToMultiLineString(parts []int32, pts []shp.Point) geom.T {
	mls := geom.NewMultiLineString(geom.XY)
	for _, r := range partRanges(parts, len(pts)) {
		if r[1]-r[0] < 2 {
			continue
		}
		_ = mls.Push(geom.NewLineStringFlat(geom.XY, flatPoints(pts[r[0]:r[1]])))
	}
	if mls.NumLineStrings() == 0 {
		return nil
	}
	return mls
}

// partsToPolygon groups rings into polygons by orientation: shapefile shells
// are clockwise and holes counter-clockwise. A hole before any shell is
// promoted to a shell.
func partsToPolygon(parts []int32, pts []shp.Point) geom.T {
	mp := geom.NewMultiPolygon(geom.XY)
	var flat []float64
	var ends []int
	flush := func() {
		if len(ends) > 0 {
			_ = mp.Push(geom.NewPolygonFlat(geom.XY, flat, ends))
		}
		flat, ends = nil, nil
	}
	for _, r := range partRanges(parts, len(pts)) {
		ring := pts[r[0]:r[1]]
		if len(ring) < 4 {
			continue
		}
		if signedArea(ring) <= 0 || len(ends) == 0 {
			flush()
		}
		flat = append(flat, flatPoints(ring)...)
		ends = append(ends, len(flat))
	}
	flush()

	switch mp.NumPolygons() {
	case 0:
		return nil
	case 1:
		return mp.Polygon(0)
	default:
		return mp
	}
}

// signedArea is positive for counter-clockwise rings.
func signedArea(ring []shp.Point) float64 {
	var a float64
	for i := 0; i+1 < len(ring); i++ {
		a += ring[i].X*ring[i+1].Y - ring[i+1].X*ring[i].Y
	}
	return a / 2
}
