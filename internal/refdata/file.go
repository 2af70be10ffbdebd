package refdata

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/access-cli/internal/failure"
	"github.com/sells-group/access-cli/internal/ingest"
	"github.com/sells-group/access-cli/internal/model"
)

// FileSource reads each layer from a GeoJSON, shapefile or zipped shapefile.
// Empty paths yield empty layers.
type FileSource struct {
	Facilities  string `mapstructure:"facilities"`
	Residential string `mapstructure:"residential"`
	LowDensity  string `mapstructure:"low_density_zones"`
	RoadNodes   string `mapstructure:"road_nodes"`
}

// Load reads every configured layer. Failures are failure.DataLoad.
func (s FileSource) Load(ctx context.Context) (*Data, error) {
	log := zap.L().With(zap.String("component", "refdata"))
	d := &Data{}

	facilities, err := ReadFeatures(ctx, s.Facilities)
	if err != nil {
		return nil, failure.Wrap(failure.DataLoad, err)
	}
	if d.Facilities, err = toFacilities(facilities); err != nil {
		return nil, failure.Wrap(failure.DataLoad, err)
	}

	for _, l := range []struct {
		path string
		dst  *[]model.Site
	}{
		{s.Residential, &d.Residential},
		{s.LowDensity, &d.LowDensity},
		{s.RoadNodes, &d.RoadNodes},
	} {
		features, err := ReadFeatures(ctx, l.path)
		if err != nil {
			return nil, failure.Wrap(failure.DataLoad, err)
		}
		if *l.dst, err = toSites(features); err != nil {
			return nil, failure.Wrap(failure.DataLoad, err)
		}
	}

	counts := d.Counts()
	log.Info("reference data loaded",
		zap.Int("facilities", counts[LayerFacilities]),
		zap.Int("residential", counts[LayerResidential]),
		zap.Int("low_density_zones", counts[LayerLowDensity]),
		zap.Int("road_nodes", counts[LayerRoadNodes]),
	)
	return d, nil
}

// ReadFeatures reads one layer file, dispatching on its extension.
func ReadFeatures(ctx context.Context, path string) ([]Feature, error) {
	if path == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "refdata: cancelled")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "refdata: open layer")
		}
		defer f.Close() //nolint:errcheck
		features, err := ReadGeoJSON(f)
		if err != nil {
			return nil, eris.Wrapf(err, "refdata: parse %s", path)
		}
		return features, nil
	case ".shp":
		return ReadShapefile(path)
	case ".zip":
		dir, err := os.MkdirTemp("", "refdata-*")
		if err != nil {
			return nil, eris.Wrap(err, "refdata: create extract dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck
		shpPath, err := ingest.ExtractShapefile(path, dir)
		if err != nil {
			return nil, eris.Wrapf(err, "refdata: extract %s", path)
		}
		return ReadShapefile(shpPath)
	default:
		return nil, eris.Errorf("refdata: unsupported layer file %q (want .geojson, .shp or .zip)", path)
	}
}
