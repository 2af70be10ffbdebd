// Package projection converts between WGS84 and a local UTM frame, the metric
// plane used for snapping, buffering and clustering.
package projection

import (
	"math"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/wroge/wgs84"
)

const epsgLonLat = 4326

var (
	registry   = wgs84.EPSG()
	transforms sync.Map // EPSG code -> *zoneTransforms
)

type zoneTransforms struct {
	forward wgs84.Func
	inverse wgs84.Func
}

// Frame is a single UTM zone. Every point projected through a Frame uses the
// zone's central meridian, even when it lies outside the zone.
type Frame struct {
	Zone     int  `json:"zone"`
	Southern bool `json:"southern"`
}

// ZoneFor returns the UTM zone number containing the given longitude.
func ZoneFor(lon float64) int {
	zone := int((lon+180)/6) + 1
	if zone > 60 {
		zone = 60
	}
	if zone < 1 {
		zone = 1
	}
	return zone
}

// FrameFor selects the frame for data centred on (lon, lat).
func FrameFor(lon, lat float64) Frame {
	return Frame{Zone: ZoneFor(lon), Southern: lat < 0}
}

// FrameForPoints selects the frame from the mean of a set of lon/lat pairs.
func FrameForPoints(lonLat [][2]float64) (Frame, error) {
	if len(lonLat) == 0 {
		return Frame{}, eris.New("projection: no points to select a frame from")
	}
	var sumLon, sumLat float64
	for _, p := range lonLat {
		sumLon += p[0]
		sumLat += p[1]
	}
	n := float64(len(lonLat))
	f := FrameFor(sumLon/n, sumLat/n)
	if _, err := f.transforms(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// EPSG returns the EPSG code of the zone (326xx north, 327xx south).
func (f Frame) EPSG() int {
	if f.Southern {
		return 32700 + f.Zone
	}
	return 32600 + f.Zone
}

func (f Frame) transforms() (*zoneTransforms, error) {
	code := f.EPSG()
	if t, ok := transforms.Load(code); ok {
		return t.(*zoneTransforms), nil
	}
	if f.Zone < 1 || f.Zone > 60 {
		return nil, eris.Errorf("projection: invalid UTM zone %d", f.Zone)
	}
	fwd, err := registry.SafeTransform(epsgLonLat, code)
	if err != nil {
		return nil, eris.Wrapf(err, "projection: EPSG:%d", code)
	}
	inv, err := registry.SafeTransform(code, epsgLonLat)
	if err != nil {
		return nil, eris.Wrapf(err, "projection: EPSG:%d", code)
	}
	t, _ := transforms.LoadOrStore(code, &zoneTransforms{forward: fwd, inverse: inv})
	return t.(*zoneTransforms), nil
}

// Forward projects lon/lat degrees into easting/northing meters. An invalid
// frame yields NaN.
func (f Frame) Forward(lon, lat float64) (x, y float64) {
	t, err := f.transforms()
	if err != nil {
		return math.NaN(), math.NaN()
	}
	x, y, _ = t.forward(lon, lat, 0)
	return x, y
}

// Inverse converts easting/northing meters back to lon/lat degrees.
func (f Frame) Inverse(x, y float64) (lon, lat float64) {
	t, err := f.transforms()
	if err != nil {
		return math.NaN(), math.NaN()
	}
	lon, lat, _ = t.inverse(x, y, 0)
	return lon, lat
}
