// Package model holds the value types shared across the accessibility engine.
package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Point is a geographic coordinate in WGS84 (lon, lat order, like GeoJSON).
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Mode identifies the travel network an isochrone is built on.
type Mode string

const (
	// ModeWalk routes over the pedestrian path graph.
	ModeWalk Mode = "walk"
	// ModeDrive routes over the road graph.
	ModeDrive Mode = "drive"
)

// Modes lists every supported travel mode.
var Modes = []Mode{ModeWalk, ModeDrive}

// ParseMode converts a string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "walk", "walking":
		return ModeWalk, nil
	case "drive", "driving":
		return ModeDrive, nil
	default:
		return "", eris.Errorf("unknown mode: %q (valid: walk, drive)", s)
	}
}

// LimitUnit is the unit of an isochrone limit.
type LimitUnit string

const (
	// Meters limits by walked distance.
	Meters LimitUnit = "meters"
	// Minutes limits by travel time.
	Minutes LimitUnit = "minutes"
)

// ParseLimitUnit converts a string into a LimitUnit. Both the unit names and
// the "distance"/"time" aliases are accepted.
func ParseLimitUnit(s string) (LimitUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "meters", "m", "distance":
		return Meters, nil
	case "minutes", "min", "time":
		return Minutes, nil
	default:
		return "", eris.Errorf("unknown limit unit: %q (valid: meters, minutes)", s)
	}
}

// Facility is a social-infrastructure point of a given amenity.
type Facility struct {
	Amenity string `json:"amenity"`
	Name    string `json:"name,omitempty"`
	Point   Point  `json:"point"`
}

// Site is a reference point with a stable ordering key (residential buildings,
// road nodes).
type Site struct {
	ID    int   `json:"id"`
	Point Point `json:"point"`
}
