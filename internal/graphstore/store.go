// Package graphstore loads each travel mode's routing graph, spatial index
// and planar edge geometries once per process and hands out shared
// read-only handles.
package graphstore

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/access-cli/internal/failure"
	"github.com/sells-group/access-cli/internal/graph"
	"github.com/sells-group/access-cli/internal/model"
	"github.com/sells-group/access-cli/internal/projection"
)

// Profile holds the per-mode constants used when building isochrones.
type Profile struct {
	// SpeedMPS converts meter limits to seconds. Zero means the mode only
	// accepts minute limits.
	SpeedMPS float64 `mapstructure:"speed_mps"`
	// BufferMeters is the distance reachable edges are thickened by.
	BufferMeters float64 `mapstructure:"buffer_meters"`
}

// DefaultProfiles are the constants of the shipped walk and drive graphs.
var DefaultProfiles = map[model.Mode]Profile{
	model.ModeWalk:  {SpeedMPS: 1.3, BufferMeters: 50},
	model.ModeDrive: {SpeedMPS: 0, BufferMeters: 70},
}

// PlanarEdge is an edge geometry projected into the handle's frame.
type PlanarEdge struct {
	U    string
	V    string
	Line *geom.LineString
}

// Handle is the loaded state of one mode. It is immutable and shared.
type Handle struct {
	Mode         model.Mode
	Graph        *graph.Graph
	Index        *graph.NodeIndex
	Edges        []PlanarEdge
	Frame        projection.Frame
	SpeedMPS     float64
	BufferMeters float64
}

// Loader produces a Handle for a mode.
type Loader interface {
	Load(ctx context.Context, mode model.Mode) (*Handle, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, mode model.Mode) (*Handle, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, mode model.Mode) (*Handle, error) {
	return f(ctx, mode)
}

// StaticLoader serves prebuilt handles, e.g. graphs assembled in memory.
type StaticLoader map[model.Mode]*Handle

// Load returns the handle registered for mode.
func (l StaticLoader) Load(_ context.Context, mode model.Mode) (*Handle, error) {
	h, ok := l[mode]
	if !ok {
		return nil, failure.Newf(failure.DataLoad, "no graph registered for mode %s", mode)
	}
	return h, nil
}

type slot struct {
	once   sync.Once
	handle *Handle
	err    error
}

// Store caches one Handle per mode. The first Get for a mode loads it; every
// concurrent or later Get observes the same handle or the same load error.
type Store struct {
	loader Loader
	log    *zap.Logger

	mu    sync.Mutex
	slots map[model.Mode]*slot
}

// New creates a Store backed by loader.
func New(loader Loader) *Store {
	return &Store{
		loader: loader,
		log:    zap.L().With(zap.String("component", "graphstore")),
		slots:  make(map[model.Mode]*slot),
	}
}

// Get returns the handle for mode, loading it on first use. Load failures
// are cached and returned unchanged on every later call.
func (s *Store) Get(ctx context.Context, mode model.Mode) (*Handle, error) {
	if _, ok := DefaultProfiles[mode]; !ok {
		return nil, failure.Newf(failure.InvalidParameter, "unknown mode %q", mode)
	}

	s.mu.Lock()
	sl, ok := s.slots[mode]
	if !ok {
		sl = &slot{}
		s.slots[mode] = sl
	}
	s.mu.Unlock()

	sl.once.Do(func() {
		start := time.Now()
		// The load outlives the first caller's cancellation.
		h, err := s.loader.Load(context.WithoutCancel(ctx), mode)
		if err != nil {
			if failure.KindOf(err) == failure.Unknown {
				err = failure.Wrap(failure.DataLoad, err)
			}
			sl.err = eris.Wrapf(err, "graphstore: load %s", mode)
			s.log.Error("graph load failed", zap.String("mode", string(mode)), zap.Error(err))
			return
		}
		sl.handle = h
		s.log.Info("graph loaded",
			zap.String("mode", string(mode)),
			zap.Int("nodes", h.Graph.Len()),
			zap.Int("edges", len(h.Edges)),
			zap.Int("epsg", h.Frame.EPSG()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
	return sl.handle, sl.err
}

// Warm loads the given modes up front. It returns the first failure.
func (s *Store) Warm(ctx context.Context, modes ...model.Mode) error {
	for _, m := range modes {
		if _, err := s.Get(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// NewHandle assembles a Handle from a graph and its lon/lat edge geometries:
// it picks the planar frame from the edge set's centroid, projects the edges
// and builds the node index.
func NewHandle(mode model.Mode, g *graph.Graph, edges []EdgeLine, profile Profile) (*Handle, error) {
	frame, err := frameFor(g, edges)
	if err != nil {
		return nil, err
	}

	planar := make([]PlanarEdge, 0, len(edges))
	for _, e := range edges {
		if e.Line == nil || e.Line.NumCoords() < 2 {
			continue
		}
		flat := make([]float64, 0, e.Line.NumCoords()*2)
		stride := e.Line.Stride()
		src := e.Line.FlatCoords()
		for i := 0; i+1 < len(src); i += stride {
			x, y := frame.Forward(src[i], src[i+1])
			flat = append(flat, x, y)
		}
		planar = append(planar, PlanarEdge{U: e.U, V: e.V, Line: geom.NewLineStringFlat(geom.XY, flat)})
	}

	idx, err := graph.NewNodeIndex(g, frame)
	if err != nil {
		return nil, err
	}
	return &Handle{
		Mode:         mode,
		Graph:        g,
		Index:        idx,
		Edges:        planar,
		Frame:        frame,
		SpeedMPS:     profile.SpeedMPS,
		BufferMeters: profile.BufferMeters,
	}, nil
}

// frameFor selects the UTM frame from the mean edge vertex, falling back to
// the mean node position for graphs without edges.
func frameFor(g *graph.Graph, edges []EdgeLine) (projection.Frame, error) {
	var pts [][2]float64
	for _, e := range edges {
		if e.Line == nil {
			continue
		}
		stride := e.Line.Stride()
		src := e.Line.FlatCoords()
		for i := 0; i+1 < len(src); i += stride {
			pts = append(pts, [2]float64{src[i], src[i+1]})
		}
	}
	if len(pts) == 0 {
		for _, n := range g.Nodes() {
			pts = append(pts, [2]float64{n.Lon, n.Lat})
		}
	}
	f, err := projection.FrameForPoints(pts)
	if err != nil {
		return projection.Frame{}, eris.Wrap(err, "graphstore: select frame")
	}
	return f, nil
}
