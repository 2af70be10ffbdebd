package refdata

import (
	"context"
	"io"
	"math"
	"os"
	"sort"

	"github.com/paulmach/orb"
	orbgeojson "github.com/paulmach/orb/geojson"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmxml"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/access-cli/internal/cluster"
	"github.com/sells-group/access-cli/internal/model"
)

// DefaultMajorHighways are the highway classes whose way endpoints become
// road nodes.
var DefaultMajorHighways = []string{"primary", "secondary"}

// RoadNodeOptions controls road node extraction.
type RoadNodeOptions struct {
	Highways []string
	// ThinRadius, when positive, merges nodes closer than this many meters
	// and keeps the member nearest to each group's centroid.
	ThinRadius float64
}

// ExtractRoadNodes reads an OSM XML file and returns the deduplicated
// endpoints of major-highway ways, ordered by OSM node id.
func ExtractRoadNodes(ctx context.Context, path string, opts RoadNodeOptions) ([]model.Site, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "refdata: open osm extract")
	}
	defer f.Close() //nolint:errcheck
	return ScanRoadNodes(ctx, f, opts)
}

// ScanRoadNodes runs two passes over r: the first collects way endpoints, the
// second resolves their coordinates.
func ScanRoadNodes(ctx context.Context, r io.ReadSeeker, opts RoadNodeOptions) ([]model.Site, error) {
	highways := opts.Highways
	if len(highways) == 0 {
		highways = DefaultMajorHighways
	}
	major := make(map[string]bool, len(highways))
	for _, h := range highways {
		major[h] = true
	}

	endpoints := map[osm.NodeID]bool{}
	err := scanOSM(ctx, r, func(o osm.Object) {
		w, ok := o.(*osm.Way)
		if !ok || len(w.Nodes) == 0 || !major[w.Tags.Find("highway")] {
			return
		}
		endpoints[w.Nodes[0].ID] = true
		endpoints[w.Nodes[len(w.Nodes)-1].ID] = true
	})
	if err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		return nil, nil
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, eris.Wrap(err, "refdata: rewind osm extract")
	}
	type located struct {
		id osm.NodeID
		p  model.Point
	}
	var nodes []located
	err = scanOSM(ctx, r, func(o osm.Object) {
		n, ok := o.(*osm.Node)
		if !ok || !endpoints[n.ID] {
			return
		}
		nodes = append(nodes, located{id: n.ID, p: model.Point{Lon: n.Lon, Lat: n.Lat}})
		delete(endpoints, n.ID)
	})
	if err != nil {
		return nil, err
	}
	if len(endpoints) > 0 {
		zap.L().Warn("refdata: way endpoints without node coordinates", zap.Int("missing", len(endpoints)))
	}

	sort.Slice(nodes, func(a, b int) bool { return nodes[a].id < nodes[b].id })
	sites := make([]model.Site, len(nodes))
	for i, n := range nodes {
		sites[i] = model.Site{ID: i, Point: n.p}
	}

	if opts.ThinRadius > 0 {
		return ThinSites(sites, opts.ThinRadius)
	}
	return sites, nil
}

func scanOSM(ctx context.Context, r io.Reader, fn func(osm.Object)) error {
	scanner := osmxml.New(ctx, r)
	defer scanner.Close() //nolint:errcheck
	for scanner.Scan() {
		fn(scanner.Object())
	}
	if err := scanner.Err(); err != nil {
		return eris.Wrap(err, "refdata: scan osm extract")
	}
	return nil
}

// ThinSites clusters sites within radius meters and replaces every group by
// the member nearest to its centroid. Output is renumbered in group order.
func ThinSites(sites []model.Site, radius float64) ([]model.Site, error) {
	groups, err := cluster.ClusterSites(sites, radius, 1)
	if err != nil {
		return nil, err
	}
	byID := make(map[int]model.Point, len(sites))
	for _, s := range sites {
		byID[s.ID] = s.Point
	}

	out := make([]model.Site, 0, len(groups))
	for i, g := range groups {
		best, bestDist := g.Members[0], math.Inf(1)
		for _, id := range g.Members {
			if d := approxDist(g.Point, byID[id]); d < bestDist {
				best, bestDist = id, d
			}
		}
		out = append(out, model.Site{ID: i, Point: byID[best]})
	}
	return out, nil
}

// approxDist is an equirectangular squared distance, enough to rank
// neighbours within a few hundred meters.
func approxDist(a, b model.Point) float64 {
	k := math.Cos((a.Lat + b.Lat) / 2 * math.Pi / 180)
	dx := (a.Lon - b.Lon) * k
	dy := a.Lat - b.Lat
	return dx*dx + dy*dy
}

// WriteSitesGeoJSON writes sites as a FeatureCollection of points with an
// "id" property, readable back through ReadGeoJSON.
func WriteSitesGeoJSON(w io.Writer, sites []model.Site) error {
	fc := orbgeojson.NewFeatureCollection()
	for _, s := range sites {
		f := orbgeojson.NewFeature(orb.Point{s.Point.Lon, s.Point.Lat})
		f.Properties["id"] = s.ID
		fc.Append(f)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return eris.Wrap(err, "refdata: encode road nodes")
	}
	if _, err := w.Write(data); err != nil {
		return eris.Wrap(err, "refdata: write road nodes")
	}
	return nil
}
