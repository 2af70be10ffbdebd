// Package refdata loads the immutable reference layers the evaluator and
// recommender consult: facility points, residential buildings, low-density
// zones and major-road nodes.
package refdata

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/access-cli/internal/geometry"
	"github.com/sells-group/access-cli/internal/model"
)

// Layer names a reference layer.
type Layer string

const (
	LayerFacilities  Layer = "facilities"
	LayerResidential Layer = "residential"
	LayerLowDensity  Layer = "low_density_zones"
	LayerRoadNodes   Layer = "road_nodes"
)

// Layers lists every layer in load order.
var Layers = []Layer{LayerFacilities, LayerResidential, LayerLowDensity, LayerRoadNodes}

// Data is the loaded reference data. Sites carry their load position as ID.
type Data struct {
	Facilities  []model.Facility
	Residential []model.Site
	LowDensity  []model.Site
	RoadNodes   []model.Site
}

// FacilitiesOf returns the facilities whose amenity is in amenities.
func (d *Data) FacilitiesOf(amenities []string) []model.Facility {
	want := make(map[string]bool, len(amenities))
	for _, a := range amenities {
		want[strings.ToLower(a)] = true
	}
	var out []model.Facility
	for _, f := range d.Facilities {
		if want[strings.ToLower(f.Amenity)] {
			out = append(out, f)
		}
	}
	return out
}

// Counts reports the size of each layer.
func (d *Data) Counts() map[Layer]int {
	return map[Layer]int{
		LayerFacilities:  len(d.Facilities),
		LayerResidential: len(d.Residential),
		LayerLowDensity:  len(d.LowDensity),
		LayerRoadNodes:   len(d.RoadNodes),
	}
}

// Source loads reference data.
type Source interface {
	Load(ctx context.Context) (*Data, error)
}

// Feature is one record of a reference layer before conversion.
type Feature struct {
	Geometry   geom.T
	Properties map[string]string
}

// PointOf reduces any geometry to a point: points are kept, everything else
// becomes its centroid.
func PointOf(g geom.T) (model.Point, error) {
	if g == nil {
		return model.Point{}, eris.New("refdata: feature without geometry")
	}
	if p, ok := g.(*geom.Point); ok {
		return model.Point{Lon: p.X(), Lat: p.Y()}, nil
	}
	return geometry.Centroid(g)
}

// toFacilities converts features carrying an "amenity" property. Features
// without one are skipped.
func toFacilities(features []Feature) ([]model.Facility, error) {
	out := make([]model.Facility, 0, len(features))
	for i, f := range features {
		amenity := strings.TrimSpace(f.Properties["amenity"])
		if amenity == "" {
			continue
		}
		p, err := PointOf(f.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "refdata: facility %d", i)
		}
		out = append(out, model.Facility{Amenity: amenity, Name: f.Properties["name"], Point: p})
	}
	return out, nil
}

// toSites converts features to sites numbered in load order.
func toSites(features []Feature) ([]model.Site, error) {
	out := make([]model.Site, 0, len(features))
	for i, f := range features {
		p, err := PointOf(f.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "refdata: site %d", i)
		}
		out = append(out, model.Site{ID: i, Point: p})
	}
	return out, nil
}
