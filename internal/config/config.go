package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/access-cli/internal/graphstore"
	"github.com/sells-group/access-cli/internal/model"
	"github.com/sells-group/access-cli/internal/refdata"
)

// Config holds the full application configuration.
type Config struct {
	Graphs     GraphsConfig     `yaml:"graphs" mapstructure:"graphs"`
	RefData    RefDataConfig    `yaml:"refdata" mapstructure:"refdata"`
	Rules      RulesConfig      `yaml:"rules" mapstructure:"rules"`
	Cluster    ClusterConfig    `yaml:"cluster" mapstructure:"cluster"`
	Isochrone  IsochroneConfig  `yaml:"isochrone" mapstructure:"isochrone"`
	Analysis   AnalysisConfig   `yaml:"analysis" mapstructure:"analysis"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// GraphsConfig locates the walk and drive road graphs.
type GraphsConfig struct {
	Walk  GraphConfig `yaml:"walk" mapstructure:"walk"`
	Drive GraphConfig `yaml:"drive" mapstructure:"drive"`
	// Warm preloads both graphs at server startup.
	Warm bool `yaml:"warm" mapstructure:"warm"`
}

// GraphConfig holds one mode's files and routing constants.
type GraphConfig struct {
	GraphPath    string  `yaml:"graph_path" mapstructure:"graph_path"`
	EdgesPath    string  `yaml:"edges_path" mapstructure:"edges_path"`
	SpeedMPS     float64 `yaml:"speed_mps" mapstructure:"speed_mps"`
	BufferMeters float64 `yaml:"buffer_meters" mapstructure:"buffer_meters"`
}

// Loader builds the graph file loader for both modes.
func (g GraphsConfig) Loader() graphstore.FileLoader {
	return graphstore.FileLoader{
		Paths: map[model.Mode]graphstore.Paths{
			model.ModeWalk:  {Graph: g.Walk.GraphPath, Edges: g.Walk.EdgesPath},
			model.ModeDrive: {Graph: g.Drive.GraphPath, Edges: g.Drive.EdgesPath},
		},
		Profiles: map[model.Mode]graphstore.Profile{
			model.ModeWalk:  {SpeedMPS: g.Walk.SpeedMPS, BufferMeters: g.Walk.BufferMeters},
			model.ModeDrive: {SpeedMPS: g.Drive.SpeedMPS, BufferMeters: g.Drive.BufferMeters},
		},
	}
}

// RefDataConfig selects the reference data source.
type RefDataConfig struct {
	// Source is "file" or "postgis".
	Source string             `yaml:"source" mapstructure:"source"`
	Files  refdata.FileSource `yaml:"files" mapstructure:"files"`
	// DatabaseURL is the PostGIS connection string; empty falls back to
	// store.database_url.
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RulesConfig configures the accessibility rule table.
type RulesConfig struct {
	// HospitalStandard is drive_30min or walk_2km.
	HospitalStandard string `yaml:"hospital_standard" mapstructure:"hospital_standard"`
	// Path replaces the default table with a YAML rule file.
	Path string `yaml:"path" mapstructure:"path"`
}

// ClusterConfig configures residential clustering.
type ClusterConfig struct {
	RadiusMeters float64 `yaml:"radius_meters" mapstructure:"radius_meters"`
	MinSize      int     `yaml:"min_size" mapstructure:"min_size"`
}

// IsochroneConfig configures the isochrone cache.
type IsochroneConfig struct {
	CacheEntries    int `yaml:"cache_entries" mapstructure:"cache_entries"`
	CacheTTLMinutes int `yaml:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
}

// CacheTTL returns the cache lifetime.
func (c IsochroneConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// AnalysisConfig bounds one origin's analysis.
type AnalysisConfig struct {
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the per-origin timeout.
func (c AnalysisConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// StoreConfig configures the run store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	RateLimit      float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst      int      `yaml:"rate_burst" mapstructure:"rate_burst"`
	RequestTimeout int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures run health alerts.
type MonitoringConfig struct {
	WebhookURL                string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs         int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours       int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold      float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	UndeterminedRateThreshold float64 `yaml:"undetermined_rate_threshold" mapstructure:"undetermined_rate_threshold"`
	StaleRunMinutes           int     `yaml:"stale_run_minutes" mapstructure:"stale_run_minutes"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from ./config.yaml (if present) and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and environment. An empty path
// looks for an optional config.yaml in the working directory; an explicit
// path must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("ACCESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	walk := graphstore.DefaultProfiles[model.ModeWalk]
	drive := graphstore.DefaultProfiles[model.ModeDrive]
	v.SetDefault("graphs.walk.graph_path", "data/walk.graphml")
	v.SetDefault("graphs.walk.edges_path", "data/walk_edges.geojson")
	v.SetDefault("graphs.walk.speed_mps", walk.SpeedMPS)
	v.SetDefault("graphs.walk.buffer_meters", walk.BufferMeters)
	v.SetDefault("graphs.drive.graph_path", "data/drive.graphml")
	v.SetDefault("graphs.drive.edges_path", "data/drive_edges.geojson")
	v.SetDefault("graphs.drive.speed_mps", drive.SpeedMPS)
	v.SetDefault("graphs.drive.buffer_meters", drive.BufferMeters)
	v.SetDefault("graphs.warm", true)
	v.SetDefault("refdata.source", "file")
	v.SetDefault("refdata.files.facilities", "data/facilities.geojson")
	v.SetDefault("refdata.files.residential", "data/residential.geojson")
	v.SetDefault("refdata.files.low_density_zones", "data/low_density_zones.geojson")
	v.SetDefault("refdata.files.road_nodes", "data/road_nodes.geojson")
	v.SetDefault("rules.hospital_standard", "drive_30min")
	v.SetDefault("cluster.radius_meters", 200.0)
	v.SetDefault("cluster.min_size", 3)
	v.SetDefault("isochrone.cache_entries", 512)
	v.SetDefault("isochrone.cache_ttl_minutes", 60)
	v.SetDefault("analysis.timeout_secs", 120)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "access.db")
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("server.request_timeout_secs", 180)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.undetermined_rate_threshold", 0.25)
	v.SetDefault("monitoring.stale_run_minutes", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Mode is one of isochrone,
// analyze, serve or refdata. All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "isochrone":
		errs = append(errs, c.validateGraphs()...)
	case "analyze", "serve":
		errs = append(errs, c.validateGraphs()...)
		errs = append(errs, c.validateAnalysis()...)
		errs = append(errs, c.validateStore()...)
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "refdata":
		if c.PostGISURL() == "" {
			errs = append(errs, "refdata.database_url or store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// validateGraphs checks the routing profiles. Walking needs a speed to turn
// meter limits into seconds; drive speed is unused since drive limits are
// minutes only.
func (c *Config) validateGraphs() []string {
	var errs []string
	if c.Graphs.Walk.SpeedMPS <= 0 {
		errs = append(errs, "graphs.walk.speed_mps must be > 0")
	}
	if c.Graphs.Walk.BufferMeters <= 0 {
		errs = append(errs, "graphs.walk.buffer_meters must be > 0")
	}
	if c.Graphs.Drive.BufferMeters <= 0 {
		errs = append(errs, "graphs.drive.buffer_meters must be > 0")
	}
	return errs
}

func (c *Config) validateAnalysis() []string {
	var errs []string
	switch c.RefData.Source {
	case "file":
	case "postgis":
		if c.PostGISURL() == "" {
			errs = append(errs, "refdata.database_url or store.database_url is required for postgis")
		}
	default:
		errs = append(errs, fmt.Sprintf("refdata.source %q is invalid (valid: file, postgis)", c.RefData.Source))
	}
	switch c.Rules.HospitalStandard {
	case "", "drive_30min", "walk_2km":
	default:
		errs = append(errs, fmt.Sprintf("rules.hospital_standard %q is invalid (valid: drive_30min, walk_2km)", c.Rules.HospitalStandard))
	}
	if c.Cluster.RadiusMeters <= 0 {
		errs = append(errs, "cluster.radius_meters must be > 0")
	}
	if c.Cluster.MinSize < 1 {
		errs = append(errs, "cluster.min_size must be >= 1")
	}
	if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 64 {
		errs = append(errs, "batch.concurrency must be between 1 and 64")
	}
	return errs
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required"}
		}
	default:
		return []string{fmt.Sprintf("store.driver %q is invalid (valid: sqlite, postgres)", c.Store.Driver)}
	}
	return nil
}

// PostGISURL returns the reference database connection string.
func (c *Config) PostGISURL() string {
	if c.RefData.DatabaseURL != "" {
		return c.RefData.DatabaseURL
	}
	if c.Store.Driver == "postgres" {
		return c.Store.DatabaseURL
	}
	return ""
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
