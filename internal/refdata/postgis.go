package refdata

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/access-cli/internal/db"
	"github.com/sells-group/access-cli/internal/failure"
	"github.com/sells-group/access-cli/internal/model"
)

// Schema holds the reference tables.
const Schema = "access"

var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,
	`CREATE SCHEMA IF NOT EXISTS access`,
	`CREATE TABLE IF NOT EXISTS access.facilities (
		id BIGSERIAL PRIMARY KEY,
		amenity TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		geom geometry(Point, 4326) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_facilities_amenity ON access.facilities (amenity)`,
	`CREATE TABLE IF NOT EXISTS access.residential (
		id BIGSERIAL PRIMARY KEY,
		geom geometry(Point, 4326) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS access.low_density_zones (
		id BIGSERIAL PRIMARY KEY,
		geom geometry(Point, 4326) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS access.road_nodes (
		id BIGSERIAL PRIMARY KEY,
		geom geometry(Point, 4326) NOT NULL
	)`,
}

// Migrate creates the reference schema and tables if missing.
func Migrate(ctx context.Context, pool db.Pool) error {
	for _, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return eris.Wrapf(err, "refdata: migrate %q", firstLine(stmt))
		}
	}
	return nil
}

// PostGISSource reads reference layers from the access schema. Geometries are
// reduced to centroids in SQL.
type PostGISSource struct {
	Pool db.Pool
}

// Load reads all four layers ordered by id.
func (s PostGISSource) Load(ctx context.Context) (*Data, error) {
	d := &Data{}

	rows, err := s.Pool.Query(ctx, `
		SELECT amenity, name, ST_X(ST_Centroid(geom)), ST_Y(ST_Centroid(geom))
		FROM access.facilities
		ORDER BY id`)
	if err != nil {
		return nil, failure.Wrap(failure.DataLoad, eris.Wrap(err, "refdata: query facilities"))
	}
	d.Facilities, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Facility, error) {
		var f model.Facility
		err := row.Scan(&f.Amenity, &f.Name, &f.Point.Lon, &f.Point.Lat)
		return f, err
	})
	if err != nil {
		return nil, failure.Wrap(failure.DataLoad, eris.Wrap(err, "refdata: scan facilities"))
	}

	for _, l := range []struct {
		layer Layer
		dst   *[]model.Site
	}{
		{LayerResidential, &d.Residential},
		{LayerLowDensity, &d.LowDensity},
		{LayerRoadNodes, &d.RoadNodes},
	} {
		sites, err := s.loadSites(ctx, l.layer)
		if err != nil {
			return nil, failure.Wrap(failure.DataLoad, err)
		}
		*l.dst = sites
	}
	return d, nil
}

func (s PostGISSource) loadSites(ctx context.Context, layer Layer) ([]model.Site, error) {
	table := pgx.Identifier{Schema, string(layer)}.Sanitize()
	rows, err := s.Pool.Query(ctx,
		`SELECT ST_X(ST_Centroid(geom)), ST_Y(ST_Centroid(geom)) FROM `+table+` ORDER BY id`)
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: query %s", layer)
	}
	i := 0
	sites, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Site, error) {
		site := model.Site{ID: i}
		i++
		err := row.Scan(&site.Point.Lon, &site.Point.Lat)
		return site, err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: scan %s", layer)
	}
	return sites, nil
}

// Import replaces the contents of every layer table with d using COPY.
func Import(ctx context.Context, pool db.Pool, d *Data) (map[Layer]int64, error) {
	log := zap.L().With(zap.String("component", "refdata"))
	out := make(map[Layer]int64, len(Layers))

	facilityRows := make([][]any, 0, len(d.Facilities))
	for _, f := range d.Facilities {
		g, err := pointEWKB(f.Point)
		if err != nil {
			return nil, err
		}
		facilityRows = append(facilityRows, []any{f.Amenity, f.Name, g})
	}

	layers := []struct {
		layer   Layer
		columns []string
		rows    [][]any
	}{
		{LayerFacilities, []string{"amenity", "name", "geom"}, facilityRows},
		{LayerResidential, []string{"geom"}, nil},
		{LayerLowDensity, []string{"geom"}, nil},
		{LayerRoadNodes, []string{"geom"}, nil},
	}
	for i, sites := range [][]model.Site{d.Residential, d.LowDensity, d.RoadNodes} {
		for _, s := range sites {
			g, err := pointEWKB(s.Point)
			if err != nil {
				return nil, err
			}
			layers[i+1].rows = append(layers[i+1].rows, []any{g})
		}
	}

	for _, l := range layers {
		n, err := db.ReplaceTable(ctx, pool, pgx.Identifier{Schema, string(l.layer)}, l.columns, l.rows)
		if err != nil {
			return nil, eris.Wrapf(err, "refdata: import %s", l.layer)
		}
		out[l.layer] = n
		log.Info("layer imported", zap.String("layer", string(l.layer)), zap.Int64("rows", n))
	}
	return out, nil
}

func pointEWKB(p model.Point) ([]byte, error) {
	g := geom.NewPointFlat(geom.XY, []float64{p.Lon, p.Lat}).SetSRID(4326)
	b, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "refdata: encode point")
	}
	return b, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
