// Package placement proposes sites for a new facility when a category's
// standard is violated. Each category runs a chain of heuristics over the
// reference layers; when the chain yields nothing, a whole isochrone is
// returned as the fallback zone.
package placement

import (
	"fmt"
	"slices"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/access-cli/internal/accessibility"
	"github.com/sells-group/access-cli/internal/cluster"
	"github.com/sells-group/access-cli/internal/failure"
	"github.com/sells-group/access-cli/internal/geometry"
	"github.com/sells-group/access-cli/internal/isochrone"
	"github.com/sells-group/access-cli/internal/model"
	"github.com/sells-group/access-cli/internal/refdata"
)

// Candidate is one recommended site.
type Candidate struct {
	Point     model.Point             `json:"point"`
	Heuristic accessibility.Heuristic `json:"heuristic"`
	Within    model.Mode              `json:"within"`
	Criterion string                  `json:"criterion"`
	// ClusterSize is the member count for residential cluster candidates.
	ClusterSize int `json:"cluster_size,omitempty"`
}

// Recommendation holds either candidate sites or a fallback zone, never both.
type Recommendation struct {
	Category     string               `json:"category"`
	Sites        []Candidate          `json:"recommended_sites"`
	FallbackZone *isochrone.Isochrone `json:"fallback_zone"`
	CriteriaUsed []string             `json:"criteria_used"`
}

// Criterion returns the human-readable tag of a heuristic hit within mode.
func Criterion(h accessibility.Heuristic, mode model.Mode) string {
	switch h {
	case accessibility.ResidentialClusters:
		return fmt.Sprintf("clustered residential buildings within %s isochrone", mode)
	case accessibility.LowDensityZones:
		return fmt.Sprintf("low density zone within %s isochrone", mode)
	case accessibility.RoadNodes:
		return fmt.Sprintf("road nodes within %s isochrone", mode)
	default:
		return fmt.Sprintf("%s within %s isochrone", h, mode)
	}
}

// FallbackCriterion tags a fallback zone built for mode.
func FallbackCriterion(mode model.Mode) string {
	return fmt.Sprintf("fallback: full %s isochrone", mode)
}

func fallbackCriterion(p accessibility.PlacementRule, mode model.Mode) string {
	if p.FallbackLabel != "" && slices.Contains(p.Fallback, mode) {
		return p.FallbackLabel
	}
	return FallbackCriterion(mode)
}

// Recommender runs placement chains against immutable reference data.
// Safe for concurrent use.
type Recommender struct {
	table   accessibility.Table
	data    *refdata.Data
	radius  float64
	minSize int
	log     *zap.Logger

	once       sync.Once
	clusters   []cluster.Centroid
	clusterErr error
}

// Option configures a Recommender.
type Option func(*Recommender)

// WithClusterParams overrides the residential clustering radius (meters) and
// minimum group size.
func WithClusterParams(radius float64, minSize int) Option {
	return func(r *Recommender) {
		r.radius = radius
		r.minSize = minSize
	}
}

// NewRecommender creates a Recommender for the categories of table.
func NewRecommender(table accessibility.Table, data *refdata.Data, opts ...Option) *Recommender {
	if data == nil {
		data = &refdata.Data{}
	}
	r := &Recommender{
		table:   table,
		data:    data,
		radius:  cluster.DefaultRadius,
		minSize: cluster.DefaultMinSize,
		log:     zap.L().With(zap.String("component", "placement")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Clusters returns the residential clusters, computing them on first use.
func (r *Recommender) Clusters() ([]cluster.Centroid, error) {
	r.once.Do(func() {
		r.clusters, r.clusterErr = cluster.ClusterSites(r.data.Residential, r.radius, r.minSize)
		if r.clusterErr == nil {
			r.log.Debug("residential clusters computed",
				zap.Int("buildings", len(r.data.Residential)),
				zap.Int("clusters", len(r.clusters)),
			)
		}
	})
	return r.clusters, r.clusterErr
}

// Recommend runs the placement chain of category against the given
// isochrones. Stages whose modes have no isochrone are skipped.
func (r *Recommender) Recommend(category string, isochrones map[model.Mode]*isochrone.Isochrone) (*Recommendation, error) {
	rule, ok := r.table.Lookup(category)
	if !ok {
		return nil, failure.Newf(failure.UnknownCategory, "unknown category %q", category)
	}
	available := 0
	for _, iso := range isochrones {
		if iso != nil && iso.Polygon != nil {
			available++
		}
	}
	if available == 0 {
		return nil, failure.Newf(failure.InvalidParameter, "no isochrones to place %s against", category)
	}

	rec := &Recommendation{Category: category, Sites: []Candidate{}, CriteriaUsed: []string{}}
	for _, stage := range rule.Placement.Stages {
		found, err := r.runStage(stage, isochrones)
		if err != nil {
			return nil, eris.Wrapf(err, "placement: %s %s", category, stage.Heuristic)
		}
		if len(found) == 0 {
			continue
		}
		rec.Sites = append(rec.Sites, found...)
		for _, mode := range stage.Within {
			c := Criterion(stage.Heuristic, mode)
			for _, f := range found {
				if f.Within == mode {
					rec.CriteriaUsed = append(rec.CriteriaUsed, c)
					break
				}
			}
		}
		if rule.Placement.StopOnHit {
			break
		}
	}

	if len(rec.Sites) == 0 {
		mode, iso := fallbackZone(rule.Placement.Fallback, isochrones)
		rec.Sites = []Candidate{}
		rec.FallbackZone = iso
		rec.CriteriaUsed = []string{fallbackCriterion(rule.Placement, mode)}
	}

	r.log.Debug("placement recommended",
		zap.String("category", category),
		zap.Int("sites", len(rec.Sites)),
		zap.Bool("fallback", rec.FallbackZone != nil),
	)
	return rec, nil
}

type candidate struct {
	point model.Point
	size  int
}

func (r *Recommender) candidates(h accessibility.Heuristic) ([]candidate, error) {
	var sites []model.Site
	switch h {
	case accessibility.ResidentialClusters:
		clusters, err := r.Clusters()
		if err != nil {
			return nil, err
		}
		out := make([]candidate, len(clusters))
		for i, c := range clusters {
			out[i] = candidate{point: c.Point, size: c.Size()}
		}
		return out, nil
	case accessibility.LowDensityZones:
		sites = r.data.LowDensity
	case accessibility.RoadNodes:
		sites = r.data.RoadNodes
	default:
		return nil, failure.Newf(failure.InvalidParameter, "unknown heuristic %q", h)
	}
	out := make([]candidate, len(sites))
	for i, s := range sites {
		out[i] = candidate{point: s.Point}
	}
	return out, nil
}

// runStage tags every candidate with the first listed mode whose polygon
// holds it. Road nodes on the boundary count.
func (r *Recommender) runStage(stage accessibility.Stage, isochrones map[model.Mode]*isochrone.Isochrone) ([]Candidate, error) {
	cands, err := r.candidates(stage.Heuristic)
	if err != nil || len(cands) == 0 {
		return nil, err
	}
	points := make([]model.Point, len(cands))
	for i, c := range cands {
		points[i] = c.point
	}

	test := geometry.ContainsPoints
	if stage.Heuristic == accessibility.RoadNodes {
		test = geometry.IntersectsPoints
	}

	within := make([]model.Mode, len(cands))
	for _, mode := range stage.Within {
		iso := isochrones[mode]
		if iso == nil || iso.Polygon == nil {
			continue
		}
		hit, err := test(iso.Polygon, points)
		if err != nil {
			return nil, err
		}
		for i, ok := range hit {
			if ok && within[i] == "" {
				within[i] = mode
			}
		}
	}

	var out []Candidate
	for i, c := range cands {
		if within[i] == "" {
			continue
		}
		out = append(out, Candidate{
			Point:       c.point,
			Heuristic:   stage.Heuristic,
			Within:      within[i],
			Criterion:   Criterion(stage.Heuristic, within[i]),
			ClusterSize: c.size,
		})
	}
	return out, nil
}

// fallbackZone picks the first available isochrone among preferred, then
// among every mode.
func fallbackZone(preferred []model.Mode, isochrones map[model.Mode]*isochrone.Isochrone) (model.Mode, *isochrone.Isochrone) {
	for _, modes := range [][]model.Mode{preferred, model.Modes} {
		for _, m := range modes {
			if iso := isochrones[m]; iso != nil && iso.Polygon != nil {
				return m, iso
			}
		}
	}
	return "", nil
}
