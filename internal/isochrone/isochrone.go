// Package isochrone builds reachability polygons: the area reachable from an
// origin over a mode's road network within a distance or time limit.
package isochrone

import (
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/access-cli/internal/failure"
	"github.com/sells-group/access-cli/internal/model"
)

// DefaultSimplifyTolerance is the topology-preserving simplification
// tolerance in meters applied when a request does not set one.
const DefaultSimplifyTolerance = 10.0

// Request describes one isochrone.
type Request struct {
	Origin model.Point     `json:"origin"`
	Mode   model.Mode      `json:"mode"`
	Limit  float64         `json:"limit"`
	Unit   model.LimitUnit `json:"limit_unit"`
	// SimplifyTolerance in meters; nil means DefaultSimplifyTolerance and 0
	// disables simplification.
	SimplifyTolerance *float64 `json:"simplify_tolerance,omitempty"`
}

// Tolerance resolves the effective simplification tolerance.
func (r Request) Tolerance() float64 {
	if r.SimplifyTolerance == nil {
		return DefaultSimplifyTolerance
	}
	return *r.SimplifyTolerance
}

// Isochrone is a built reachability polygon in WGS84.
type Isochrone struct {
	Polygon        geom.T
	Mode           model.Mode
	Limit          float64
	Unit           model.LimitUnit
	TimeBudget     float64
	SourceNode     string
	ReachableNodes int
	EPSG           int
}

// CheckLimit validates a limit and its unit for mode. Meter limits are only
// valid for walking.
func CheckLimit(mode model.Mode, limit float64, unit model.LimitUnit) error {
	if math.IsNaN(limit) || math.IsInf(limit, 0) || limit <= 0 {
		return failure.Newf(failure.InvalidParameter, "limit must be a positive number, got %v", limit)
	}
	switch unit {
	case model.Meters:
		if mode != model.ModeWalk {
			return failure.Newf(failure.InvalidParameter, "mode %s does not support meter limits, use minutes", mode)
		}
	case model.Minutes:
	default:
		return failure.Newf(failure.InvalidParameter, "unknown limit unit %q", unit)
	}
	return nil
}

// TimeBudget converts a limit to seconds of travel cost. Meter limits walk
// at speedMPS with a 20% allowance; minute limits are doubled.
func TimeBudget(mode model.Mode, limit float64, unit model.LimitUnit, speedMPS float64) (float64, error) {
	if err := CheckLimit(mode, limit, unit); err != nil {
		return 0, err
	}
	if unit == model.Minutes {
		return limit * 60 * 2, nil
	}
	if speedMPS <= 0 {
		return 0, failure.Newf(failure.DataLoad, "%s profile has no speed for meter limits", mode)
	}
	return (limit / speedMPS) * 1.2, nil
}

// Properties returns the GeoJSON properties of the isochrone.
func (iso *Isochrone) Properties() map[string]interface{} {
	return map[string]interface{}{
		"mode":                 string(iso.Mode),
		"limit":                iso.Limit,
		"limit_unit":           string(iso.Unit),
		"time_budget_seconds":  math.Round(iso.TimeBudget*100) / 100,
		"source_node_id":       iso.SourceNode,
		"reachable_node_count": iso.ReachableNodes,
		"epsg":                 iso.EPSG,
	}
}

// Feature encodes the isochrone as a GeoJSON Feature.
func (iso *Isochrone) Feature() *geojson.Feature {
	return &geojson.Feature{
		Geometry:   iso.Polygon,
		Properties: iso.Properties(),
	}
}

// MarshalJSON renders the isochrone as a GeoJSON Feature.
func (iso *Isochrone) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(iso.Feature())
	if err != nil {
		return nil, eris.Wrap(err, "isochrone: encode feature")
	}
	return b, nil
}
