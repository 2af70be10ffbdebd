package isochrone

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/access-cli/internal/failure"
	"github.com/sells-group/access-cli/internal/geometry"
	"github.com/sells-group/access-cli/internal/graphstore"
	"github.com/sells-group/access-cli/internal/model"
)

// Observer receives build telemetry. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveBuild(mode model.Mode, elapsed time.Duration, err error)
	ObserveCache(hit bool)
}

// Builder builds isochrones from the graphs held by a graphstore.Store.
type Builder struct {
	graphs   *graphstore.Store
	cache    *Cache
	observer Observer
	log      *zap.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithCache memoises built isochrones across requests.
func WithCache(c *Cache) Option {
	return func(b *Builder) { b.cache = c }
}

// WithObserver reports build durations, failures and cache hits.
func WithObserver(o Observer) Option {
	return func(b *Builder) { b.observer = o }
}

// NewBuilder creates a Builder over graphs.
func NewBuilder(graphs *graphstore.Store, opts ...Option) *Builder {
	b := &Builder{
		graphs: graphs,
		log:    zap.L().With(zap.String("component", "isochrone")),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build computes the isochrone for req. Errors carry a failure.Kind:
// InvalidParameter, NoReachableNodes, NoReachableEdges or DataLoad.
func (b *Builder) Build(ctx context.Context, req Request) (*Isochrone, error) {
	start := time.Now()
	iso, err := b.build(ctx, req)
	if b.observer != nil {
		b.observer.ObserveBuild(req.Mode, time.Since(start), err)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "isochrone: build %s %g %s", req.Mode, req.Limit, req.Unit)
	}
	return iso, nil
}

func (b *Builder) build(ctx context.Context, req Request) (*Isochrone, error) {
	if err := validateOrigin(req.Origin); err != nil {
		return nil, err
	}
	tol := req.Tolerance()
	if tol < 0 || math.IsNaN(tol) {
		return nil, failure.Newf(failure.InvalidParameter, "simplify tolerance must be >= 0, got %v", tol)
	}
	if err := CheckLimit(req.Mode, req.Limit, req.Unit); err != nil {
		return nil, err
	}

	h, err := b.graphs.Get(ctx, req.Mode)
	if err != nil {
		return nil, err
	}
	budget, err := TimeBudget(req.Mode, req.Limit, req.Unit, h.SpeedMPS)
	if err != nil {
		return nil, err
	}

	source, _, err := h.Index.Nearest(req.Origin.Lon, req.Origin.Lat)
	if err != nil {
		return nil, failure.Wrap(failure.DataLoad, err)
	}

	key := cacheKey(req.Mode, req.Limit, req.Unit, tol, source)
	if b.cache != nil {
		cached := b.cache.Get(key)
		if b.observer != nil {
			b.observer.ObserveCache(cached != nil)
		}
		if cached != nil {
			return cached, nil
		}
	}

	reach, err := h.Graph.WithinCost(source, budget)
	if err != nil {
		return nil, eris.Wrap(err, "isochrone: search")
	}
	if len(reach) == 0 {
		return nil, failure.Newf(failure.NoReachableNodes, "no nodes reachable from %s within %.2f s", source, budget)
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "isochrone: cancelled after search")
	}

	lines := reachableLines(h.Edges, reach)
	if len(lines) == 0 {
		return nil, failure.Newf(failure.NoReachableEdges, "no edge joins two of the %d nodes reachable from %s", len(reach), source)
	}

	planar, err := geometry.BufferLines(lines, h.BufferMeters, tol)
	if err != nil {
		return nil, eris.Wrap(err, "isochrone: buffer network")
	}
	polygon, err := geometry.Transform(planar, h.Frame.Inverse)
	if err != nil {
		return nil, eris.Wrap(err, "isochrone: reproject")
	}

	iso := &Isochrone{
		Polygon:        polygon,
		Mode:           req.Mode,
		Limit:          req.Limit,
		Unit:           req.Unit,
		TimeBudget:     budget,
		SourceNode:     source,
		ReachableNodes: len(reach),
		EPSG:           h.Frame.EPSG(),
	}
	if b.cache != nil {
		b.cache.Put(key, iso)
	}
	b.log.Debug("isochrone built",
		zap.String("mode", string(req.Mode)),
		zap.String("source", source),
		zap.Int("reachable_nodes", len(reach)),
		zap.Int("edges", len(lines)),
	)
	return iso, nil
}

// Reachable returns the snapped source node and the cost to every node
// reachable from origin within budget seconds.
func (b *Builder) Reachable(ctx context.Context, origin model.Point, mode model.Mode, budget float64) (string, map[string]float64, error) {
	if err := validateOrigin(origin); err != nil {
		return "", nil, err
	}
	h, err := b.graphs.Get(ctx, mode)
	if err != nil {
		return "", nil, err
	}
	source, _, err := h.Index.Nearest(origin.Lon, origin.Lat)
	if err != nil {
		return "", nil, failure.Wrap(failure.DataLoad, err)
	}
	if budget < 0 || math.IsNaN(budget) || math.IsInf(budget, 0) {
		return "", nil, failure.Newf(failure.InvalidParameter, "budget must be a non-negative number, got %v", budget)
	}
	reach, err := h.Graph.WithinCost(source, budget)
	if err != nil {
		return "", nil, eris.Wrap(err, "isochrone: search")
	}
	return source, reach, nil
}

// reachableLines keeps the edges whose both endpoints are reachable.
func reachableLines(edges []graphstore.PlanarEdge, reach map[string]float64) []*geom.LineString {
	var out []*geom.LineString
	for _, e := range edges {
		if _, ok := reach[e.U]; !ok {
			continue
		}
		if _, ok := reach[e.V]; !ok {
			continue
		}
		out = append(out, e.Line)
	}
	return out
}

func validateOrigin(p model.Point) error {
	if math.IsNaN(p.Lon) || math.IsNaN(p.Lat) || p.Lon < -180 || p.Lon > 180 || p.Lat < -90 || p.Lat > 90 {
		return failure.Newf(failure.InvalidParameter, "origin (%v, %v) is not a valid lon/lat", p.Lon, p.Lat)
	}
	return nil
}
