package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/blitzquote/rate-engine/internal/gazetteer"
	"github.com/blitzquote/rate-engine/internal/pipeline"
	"github.com/blitzquote/rate-engine/internal/ratecache"
	"github.com/blitzquote/rate-engine/internal/regions"
	"github.com/blitzquote/rate-engine/internal/spotcheck"
	"github.com/blitzquote/rate-engine/internal/store"
	"github.com/blitzquote/rate-engine/pkg/csg"
)

// engineEnv holds the initialized store, source client, and domain
// services the commands share.
type engineEnv struct {
	Store   store.Store
	Source  csg.Client
	Gaz     *gazetteer.Gazetteer
	Cache   *ratecache.Cache
	Engine  *regions.Engine
	Checker *spotcheck.Checker
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "rates.db"
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

func initSource() csg.Client {
	opts := []csg.Option{
		csg.WithRateLimit(cfg.Source.RatePerSec, cfg.Source.RateBurst),
		csg.WithTokenFile(cfg.Source.TokenFile),
		csg.WithMaxRetries(cfg.Source.MaxRetries),
		csg.WithTimeout(time.Duration(cfg.Source.TimeoutSecs) * time.Second),
	}
	if cfg.Source.BaseURL != "" {
		opts = append(opts, csg.WithBaseURL(cfg.Source.BaseURL))
	}
	if cfg.Source.TokenURL != "" {
		opts = append(opts, csg.WithTokenURL(cfg.Source.TokenURL))
	}
	return csg.NewClient(cfg.Source.APIKey, opts...)
}

// initEnv sets up the store, the source client, and the domain services.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*engineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	gaz, err := gazetteer.Load(cfg.Gazetteer.ZipCountyFile)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	overrides, err := regions.LoadOverrides(cfg.Discovery.OverridesFile)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	source := initSource()
	engine := regions.NewEngine(source, gaz, overrides, regions.Config{
		OverlapThreshold:    cfg.Discovery.OverlapThreshold,
		MaxConsecutiveEmpty: cfg.Discovery.MaxConsecutiveEmpty,
		MaxProbeErrors:      cfg.Discovery.MaxProbeErrors,
		MaxEmptyGroups:      cfg.Discovery.MaxEmptyGroups,
		MinCoveragePct:      cfg.Discovery.MinCoveragePct,
		Shuffle:             cfg.Discovery.ProbeShuffle,
	})

	return &engineEnv{
		Store:   st,
		Source:  source,
		Gaz:     gaz,
		Cache:   ratecache.New(st, gaz),
		Engine:  engine,
		Checker: spotcheck.New(source, st, gaz, spotcheck.Config{
			MaxRegions:      cfg.SpotCheck.MaxRegions,
			MaxDemographics: cfg.SpotCheck.MaxDemographics,
		}),
	}, nil
}

// newBuilder assembles the build orchestrator over an environment.
func newBuilder(env *engineEnv, force, spotCheck bool) *pipeline.Builder {
	return pipeline.New(env.Source, env.Store, env.Cache, env.Engine, env.Checker, env.Gaz, pipeline.Config{
		MaxConcurrentStates:   cfg.Build.MaxConcurrentStates,
		MaxConcurrentCarriers: cfg.Build.MaxConcurrentCarriers,
		MaxConcurrentFetches:  cfg.Build.MaxConcurrentFetches,
		FlushBatchSize:        cfg.Build.FlushBatchSize,
		Force:                 force,
		SpotCheck:             spotCheck,
	})
}
