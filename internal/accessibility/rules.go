package accessibility

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/access-cli/internal/isochrone"
	"github.com/sells-group/access-cli/internal/model"
)

// Combinator folds the per-isochrone containment results of a rule.
type Combinator string

const (
	// Any is satisfied when some isochrone contains a matching facility.
	Any Combinator = "any"
	// All requires every isochrone to contain a matching facility.
	All Combinator = "all"
)

// Heuristic names a placement stage.
type Heuristic string

const (
	ResidentialClusters Heuristic = "residential_clusters"
	LowDensityZones     Heuristic = "low_density_zones"
	RoadNodes           Heuristic = "road_nodes"
)

// Hospital standards.
const (
	HospitalDrive30Min = "drive_30min"
	HospitalWalk2km    = "walk_2km"
)

// IsochroneRule is one isochrone a rule builds.
type IsochroneRule struct {
	Mode  model.Mode      `yaml:"mode" json:"mode"`
	Limit float64         `yaml:"limit" json:"limit"`
	Unit  model.LimitUnit `yaml:"unit" json:"limit_unit"`
}

// Stage is one placement heuristic and the modes whose isochrones it tests,
// in priority order.
type Stage struct {
	Heuristic Heuristic    `yaml:"heuristic" json:"heuristic"`
	Within    []model.Mode `yaml:"within" json:"within"`
}

// PlacementRule drives the recommender for a category.
type PlacementRule struct {
	Stages []Stage `yaml:"stages" json:"stages"`
	// Fallback lists the modes whose isochrone becomes the fallback zone, in
	// priority order.
	Fallback []model.Mode `yaml:"fallback" json:"fallback"`
	// StopOnHit ends the chain at the first stage that yields candidates.
	StopOnHit bool `yaml:"stop_on_hit" json:"stop_on_hit"`
	// FallbackLabel overrides the criterion reported when one of the
	// Fallback modes supplies the zone.
	FallbackLabel string `yaml:"fallback_label,omitempty" json:"fallback_label,omitempty"`
}

// Rule is the accessibility standard of one category.
type Rule struct {
	Category   string          `yaml:"category" json:"category"`
	Amenities  []string        `yaml:"amenities" json:"amenities"`
	Combinator Combinator      `yaml:"combinator" json:"combinator"`
	Isochrones []IsochroneRule `yaml:"isochrones" json:"isochrones"`
	Placement  PlacementRule   `yaml:"placement" json:"placement"`
}

// Table is an ordered rule set.
type Table []Rule

// Lookup returns the rule for category.
func (t Table) Lookup(category string) (Rule, bool) {
	for _, r := range t {
		if r.Category == category {
			return r, true
		}
	}
	return Rule{}, false
}

// Categories lists categories in table order.
func (t Table) Categories() []string {
	out := make([]string, len(t))
	for i, r := range t {
		out[i] = r.Category
	}
	return out
}

var (
	walk500m = IsochroneRule{Mode: model.ModeWalk, Limit: 500, Unit: model.Meters}

	schoolPlacement = PlacementRule{
		Stages: []Stage{
			{Heuristic: ResidentialClusters, Within: []model.Mode{model.ModeDrive}},
			{Heuristic: LowDensityZones, Within: []model.Mode{model.ModeWalk, model.ModeDrive}},
			{Heuristic: RoadNodes, Within: []model.Mode{model.ModeDrive}},
		},
		Fallback: []model.Mode{model.ModeDrive, model.ModeWalk},
	}
)

// DefaultTable returns the built-in standards with the given hospital
// variant (HospitalDrive30Min or HospitalWalk2km).
func DefaultTable(hospitalStandard string) (Table, error) {
	hospital, err := hospitalRule(hospitalStandard)
	if err != nil {
		return nil, err
	}
	return Table{
		{
			Category:   "kindergarten",
			Amenities:  []string{"kindergarten"},
			Combinator: Any,
			Isochrones: []IsochroneRule{walk500m},
			Placement: PlacementRule{
				Stages:        []Stage{{Heuristic: ResidentialClusters, Within: []model.Mode{model.ModeWalk}}},
				Fallback:      []model.Mode{model.ModeWalk},
				FallbackLabel: "fallback: full isochrone",
			},
		},
		{
			Category:   "school",
			Amenities:  []string{"school"},
			Combinator: Any,
			Isochrones: []IsochroneRule{walk500m, {Mode: model.ModeDrive, Limit: 15, Unit: model.Minutes}},
			Placement:  schoolPlacement,
		},
		{
			Category:   "college",
			Amenities:  []string{"college"},
			Combinator: Any,
			Isochrones: []IsochroneRule{walk500m, {Mode: model.ModeDrive, Limit: 30, Unit: model.Minutes}},
			Placement:  schoolPlacement,
		},
		hospital,
	}, nil
}

func hospitalRule(standard string) (Rule, error) {
	switch strings.ToLower(strings.TrimSpace(standard)) {
	case "", HospitalDrive30Min:
		return Rule{
			Category:   "hospital",
			Amenities:  []string{"hospital", "clinic"},
			Combinator: Any,
			Isochrones: []IsochroneRule{{Mode: model.ModeDrive, Limit: 30, Unit: model.Minutes}},
			Placement: PlacementRule{
				Stages: []Stage{
					{Heuristic: LowDensityZones, Within: []model.Mode{model.ModeDrive}},
					{Heuristic: RoadNodes, Within: []model.Mode{model.ModeDrive}},
				},
				Fallback:      []model.Mode{model.ModeDrive},
				FallbackLabel: "fallback: full 30min drive isochrone",
			},
		}, nil
	case HospitalWalk2km:
		return Rule{
			Category:   "hospital",
			Amenities:  []string{"clinic"},
			Combinator: Any,
			Isochrones: []IsochroneRule{{Mode: model.ModeWalk, Limit: 2000, Unit: model.Meters}},
			Placement: PlacementRule{
				Stages: []Stage{
					{Heuristic: LowDensityZones, Within: []model.Mode{model.ModeWalk}},
					{Heuristic: RoadNodes, Within: []model.Mode{model.ModeWalk}},
				},
				Fallback: []model.Mode{model.ModeWalk},
			},
		}, nil
	default:
		return Rule{}, eris.Errorf("accessibility: unknown hospital standard %q (valid: %s, %s)",
			standard, HospitalDrive30Min, HospitalWalk2km)
	}
}

type tableFile struct {
	Rules Table `yaml:"rules"`
}

// LoadTable reads a YAML rule file of the form `rules: [...]`.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "accessibility: read rule file")
	}
	return ParseTable(data)
}

// ParseTable decodes and validates a YAML rule document.
func ParseTable(data []byte) (Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "accessibility: decode rule file")
	}
	for i := range f.Rules {
		if f.Rules[i].Combinator == "" {
			f.Rules[i].Combinator = Any
		}
	}
	if err := f.Rules.Validate(); err != nil {
		return nil, err
	}
	return f.Rules, nil
}

// Validate checks the table for structural errors.
func (t Table) Validate() error {
	if len(t) == 0 {
		return eris.New("accessibility: rule table is empty")
	}
	seen := map[string]bool{}
	for _, r := range t {
		if r.Category == "" {
			return eris.New("accessibility: rule without category")
		}
		if seen[r.Category] {
			return eris.Errorf("accessibility: duplicate category %q", r.Category)
		}
		seen[r.Category] = true

		if len(r.Amenities) == 0 {
			return eris.Errorf("accessibility: %s: no amenities", r.Category)
		}
		if r.Combinator != Any && r.Combinator != All {
			return eris.Errorf("accessibility: %s: unknown combinator %q", r.Category, r.Combinator)
		}
		if len(r.Isochrones) == 0 {
			return eris.Errorf("accessibility: %s: no isochrones", r.Category)
		}
		for _, iso := range r.Isochrones {
			mode, err := model.ParseMode(string(iso.Mode))
			if err != nil {
				return eris.Wrapf(err, "accessibility: %s", r.Category)
			}
			unit, err := model.ParseLimitUnit(string(iso.Unit))
			if err != nil {
				return eris.Wrapf(err, "accessibility: %s", r.Category)
			}
			if err := isochrone.CheckLimit(mode, iso.Limit, unit); err != nil {
				return eris.Wrapf(err, "accessibility: %s", r.Category)
			}
		}
		for _, s := range r.Placement.Stages {
			switch s.Heuristic {
			case ResidentialClusters, LowDensityZones, RoadNodes:
			default:
				return eris.Errorf("accessibility: %s: unknown heuristic %q", r.Category, s.Heuristic)
			}
			if len(s.Within) == 0 {
				return eris.Errorf("accessibility: %s: stage %s has no modes", r.Category, s.Heuristic)
			}
		}
	}
	return nil
}
