package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/access-cli/internal/model"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "access.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Batch.Concurrency)
	assert.Equal(t, "file", cfg.RefData.Source)
	assert.Equal(t, "data/facilities.geojson", cfg.RefData.Files.Facilities)
	assert.Equal(t, "drive_30min", cfg.Rules.HospitalStandard)
	assert.InDelta(t, 200.0, cfg.Cluster.RadiusMeters, 0.001)
	assert.Equal(t, 3, cfg.Cluster.MinSize)
	assert.InDelta(t, 1.3, cfg.Graphs.Walk.SpeedMPS, 0.001)
	assert.InDelta(t, 50.0, cfg.Graphs.Walk.BufferMeters, 0.001)
	assert.Zero(t, cfg.Graphs.Drive.SpeedMPS)
	assert.InDelta(t, 70.0, cfg.Graphs.Drive.BufferMeters, 0.001)
	assert.True(t, cfg.Graphs.Warm)
	assert.Equal(t, 2*time.Minute, cfg.Analysis.Timeout())
	assert.Equal(t, time.Hour, cfg.Isochrone.CacheTTL())
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.InDelta(t, 0.10, cfg.Monitoring.FailureRateThreshold, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/access
log:
  level: debug
  format: console
server:
  port: 9090
batch:
  concurrency: 10
graphs:
  walk:
    graph_path: /srv/walk.graphml
rules:
  hospital_standard: walk_2km
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Batch.Concurrency)
	assert.Equal(t, "/srv/walk.graphml", cfg.Graphs.Walk.GraphPath)
	assert.Equal(t, "walk_2km", cfg.Rules.HospitalStandard)
	// Defaults still apply for unset values
	assert.Equal(t, "data/walk_edges.geojson", cfg.Graphs.Walk.EdgesPath)
	assert.Equal(t, 3, cfg.Cluster.MinSize)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("ACCESS_STORE_DRIVER", "postgres")
	t.Setenv("ACCESS_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("ACCESS_SERVER_PORT", "3000")
	t.Setenv("ACCESS_CLUSTER_RADIUS_METERS", "150")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.InDelta(t, 150.0, cfg.Cluster.RadiusMeters, 0.001)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestLoadFile_ExplicitPath(t *testing.T) {
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "prod.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7070\nrefdata:\n  source: postgis\n"), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "postgis", cfg.RefData.Source)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoadFile_MissingExplicitPath(t *testing.T) {
	chdirTemp(t)

	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestGraphsLoader(t *testing.T) {
	g := GraphsConfig{
		Walk:  GraphConfig{GraphPath: "w.graphml", EdgesPath: "w.geojson", SpeedMPS: 1.3, BufferMeters: 50},
		Drive: GraphConfig{GraphPath: "d.graphml", BufferMeters: 70},
	}
	l := g.Loader()

	assert.Equal(t, "w.graphml", l.Paths[model.ModeWalk].Graph)
	assert.Equal(t, "w.geojson", l.Paths[model.ModeWalk].Edges)
	assert.Equal(t, "d.graphml", l.Paths[model.ModeDrive].Graph)
	assert.Empty(t, l.Paths[model.ModeDrive].Edges)
	assert.InDelta(t, 1.3, l.Profiles[model.ModeWalk].SpeedMPS, 0.001)
	assert.InDelta(t, 70.0, l.Profiles[model.ModeDrive].BufferMeters, 0.001)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.RefData.Source = "file"
	cfg.Rules.HospitalStandard = "drive_30min"
	cfg.Cluster.RadiusMeters = 200
	cfg.Cluster.MinSize = 3
	cfg.Batch.Concurrency = 4
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "access.db"
	cfg.Server.Port = 8080
	cfg.Graphs.Walk.SpeedMPS = 1.3
	cfg.Graphs.Walk.BufferMeters = 50
	cfg.Graphs.Drive.BufferMeters = 70
	return cfg
}

func TestValidateGraphProfiles(t *testing.T) {
	cfg := validDefaults()
	cfg.Graphs.Walk.SpeedMPS = 0
	cfg.Graphs.Walk.BufferMeters = -1
	cfg.Graphs.Drive.BufferMeters = 0

	for _, mode := range []string{"isochrone", "analyze", "serve"} {
		err := cfg.Validate(mode)
		require.Error(t, err, mode)
		assert.Contains(t, err.Error(), "graphs.walk.speed_mps must be > 0")
		assert.Contains(t, err.Error(), "graphs.walk.buffer_meters must be > 0")
		assert.Contains(t, err.Error(), "graphs.drive.buffer_meters must be > 0")
	}
}

func TestValidateGraphProfiles_DriveSpeedIgnored(t *testing.T) {
	cfg := validDefaults()
	cfg.Graphs.Drive.SpeedMPS = 10
	assert.NoError(t, cfg.Validate("isochrone"))
}

func TestValidateAnalyze_Defaults(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("analyze"))
	assert.NoError(t, validDefaults().Validate("serve"))
	assert.NoError(t, validDefaults().Validate("isochrone"))
}

func TestValidateAnalyze_MultipleErrors(t *testing.T) {
	cfg := validDefaults()
	cfg.RefData.Source = "s3"
	cfg.Rules.HospitalStandard = "walk_5km"
	cfg.Cluster.RadiusMeters = 0
	cfg.Cluster.MinSize = 0
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `refdata.source "s3" is invalid`)
	assert.Contains(t, err.Error(), `rules.hospital_standard "walk_5km" is invalid`)
	assert.Contains(t, err.Error(), "cluster.radius_meters must be > 0")
	assert.Contains(t, err.Error(), "cluster.min_size must be >= 1")
	assert.Contains(t, err.Error(), `store.driver "mysql" is invalid`)
}

func TestValidateAnalyze_PostGISNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.RefData.Source = "postgis"

	err := cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required for postgis")

	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/access"
	assert.NoError(t, cfg.Validate("analyze"))
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Batch.Concurrency = 0
	err := cfg.Validate("analyze")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "batch.concurrency must be between 1 and 64")

	cfg.Batch.Concurrency = 65
	assert.Error(t, cfg.Validate("analyze"))

	cfg.Batch.Concurrency = 64
	assert.NoError(t, cfg.Validate("analyze"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.NoError(t, cfg.Validate("analyze"))
}

func TestValidateRefData(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("refdata")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "refdata.database_url or store.database_url is required")

	cfg.RefData.DatabaseURL = "postgres://localhost/gis"
	assert.NoError(t, cfg.Validate("refdata"))
	assert.Equal(t, "postgres://localhost/gis", cfg.PostGISURL())
}

func TestPostGISURL_FallsBackToPostgresStore(t *testing.T) {
	cfg := validDefaults()
	assert.Empty(t, cfg.PostGISURL(), "sqlite store url is not a postgis url")

	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/main"
	assert.Equal(t, "postgres://localhost/main", cfg.PostGISURL())
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
