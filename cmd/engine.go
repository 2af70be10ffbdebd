package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/access-cli/internal/accessibility"
	"github.com/sells-group/access-cli/internal/analysis"
	"github.com/sells-group/access-cli/internal/graphstore"
	"github.com/sells-group/access-cli/internal/isochrone"
	"github.com/sells-group/access-cli/internal/monitoring"
	"github.com/sells-group/access-cli/internal/placement"
	"github.com/sells-group/access-cli/internal/refdata"
	"github.com/sells-group/access-cli/internal/resilience"
	"github.com/sells-group/access-cli/internal/store"
)

// engineEnv holds the wired engine shared by the analyze, batch and serve
// commands.
type engineEnv struct {
	Graphs      *graphstore.Store
	Builder     *isochrone.Builder
	Data        *refdata.Data
	Table       accessibility.Table
	Evaluator   *accessibility.Evaluator
	Recommender *placement.Recommender
	Runner      *analysis.Runner
	Store       store.Store         // nil when persistence is off
	Metrics     *monitoring.Metrics // nil unless requested

	closers []func()
}

type engineOptions struct {
	persist bool
	metrics bool
}

// Close releases the store and any database pools.
func (e *engineEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// initEngine loads reference data and rules and wires the graph store,
// isochrone builder, evaluator, recommender and runner. Callers should
// defer env.Close().
func initEngine(ctx context.Context, opts engineOptions) (*engineEnv, error) {
	env := &engineEnv{}

	if opts.metrics {
		m, err := monitoring.NewMetrics(nil)
		if err != nil {
			return nil, err
		}
		env.Metrics = m
	}

	env.Graphs, env.Builder = initBuilder(env.Metrics)

	data, err := loadRefData(ctx, env)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Data = data

	env.Table, err = loadRules()
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Evaluator, err = accessibility.NewEvaluator(env.Builder, env.Data, env.Table)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init evaluator")
	}
	env.Recommender = placement.NewRecommender(env.Table, env.Data,
		placement.WithClusterParams(cfg.Cluster.RadiusMeters, cfg.Cluster.MinSize))

	var runnerOpts []analysis.Option
	if env.Metrics != nil {
		runnerOpts = append(runnerOpts, analysis.WithObserver(env.Metrics))
	}
	if opts.persist {
		st, err := initStore(ctx)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.closers = append(env.closers, func() { _ = st.Close() })
		if err := st.Migrate(ctx); err != nil {
			env.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
		env.Store = st
		runnerOpts = append(runnerOpts, analysis.WithStore(st))
	}

	env.Runner = analysis.NewRunner(env.Evaluator, env.Recommender, analysis.Options{
		Timeout:     cfg.Analysis.Timeout(),
		Concurrency: cfg.Batch.Concurrency,
	}, runnerOpts...)

	zap.L().Info("engine ready",
		zap.String("refdata_source", cfg.RefData.Source),
		zap.Int("facilities", len(env.Data.Facilities)),
		zap.Int("residential", len(env.Data.Residential)),
		zap.Int("road_nodes", len(env.Data.RoadNodes)),
		zap.Strings("categories", env.Table.Categories()),
		zap.Bool("persist", env.Store != nil),
	)
	return env, nil
}

// initBuilder wires the lazily loading graph store to a cached builder.
// Graphs are read on first use.
func initBuilder(metrics *monitoring.Metrics) (*graphstore.Store, *isochrone.Builder) {
	graphs := graphstore.New(cfg.Graphs.Loader())
	opts := []isochrone.Option{
		isochrone.WithCache(isochrone.NewCache(cfg.Isochrone.CacheEntries, cfg.Isochrone.CacheTTL())),
	}
	if metrics != nil {
		opts = append(opts, isochrone.WithObserver(metrics))
	}
	return graphs, isochrone.NewBuilder(graphs, opts...)
}

func loadRefData(ctx context.Context, env *engineEnv) (*refdata.Data, error) {
	var src refdata.Source
	switch cfg.RefData.Source {
	case "", "file":
		src = cfg.RefData.Files
	case "postgis":
		pool, err := store.NewPool(ctx, cfg.PostGISURL(), &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, eris.Wrap(err, "open postgis pool")
		}
		env.closers = append(env.closers, pool.Close)
		src = refdata.PostGISSource{Pool: pool}
	default:
		return nil, eris.Errorf("unsupported refdata source: %s", cfg.RefData.Source)
	}

	data, err := resilience.DoVal(ctx, resilience.DefaultPolicy(), "load reference data", src.Load)
	if err != nil {
		return nil, eris.Wrap(err, "load reference data")
	}
	return data, nil
}

func loadRules() (accessibility.Table, error) {
	if cfg.Rules.Path != "" {
		t, err := accessibility.LoadTable(cfg.Rules.Path)
		return t, eris.Wrapf(err, "load rules %s", cfg.Rules.Path)
	}
	t, err := accessibility.DefaultTable(cfg.Rules.HospitalStandard)
	return t, eris.Wrap(err, "default rules")
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "access.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
