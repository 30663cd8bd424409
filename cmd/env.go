package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/refdata/internal/cachebus"
	"github.com/sells-group/refdata/internal/db"
	"github.com/sells-group/refdata/internal/index"
	"github.com/sells-group/refdata/internal/refdata"
	"github.com/sells-group/refdata/internal/refdata/postgres"
	"github.com/sells-group/refdata/internal/refdata/sqlite"
	"github.com/sells-group/refdata/internal/resilience"
	"github.com/sells-group/refdata/internal/suggest"
)

// engineEnv holds the store, the engine and the optional cache bus used by
// every command. Callers should defer env.Close().
type engineEnv struct {
	Store  refdata.Store
	Engine *refdata.Engine
	Pool   *pgxpool.Pool // nil for sqlite
	Bus    *cachebus.Bus // nil without cache.redis_addr
}

// Close releases resources held by the environment.
func (ee *engineEnv) Close() {
	if ee.Bus != nil {
		_ = ee.Bus.Close()
	}
	if ee.Store != nil {
		_ = ee.Store.Close()
	}
}

// initStore opens and migrates the configured store. The pool is returned
// for postgres so the document index can share it.
func initStore(ctx context.Context) (refdata.Store, *pgxpool.Pool, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "refdata.db"
		}
		st, err := sqlite.New(dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, nil, eris.Wrap(err, "migrate store")
		}
		return st, nil, nil
	case "postgres":
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, eris.Wrap(err, "migrate store")
		}
		return postgres.NewStore(pool), pool, nil
	default:
		return nil, nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEngine validates cfg for mode, opens the store and builds the engine
// with its index, suggestion provider and cache bus. With subscribe set the
// engine also drops its local caches on invalidations from other replicas
// until ctx is done.
func initEngine(ctx context.Context, mode string, subscribe bool) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, pool, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &engineEnv{Store: st, Pool: pool}

	opts := []refdata.Option{
		refdata.WithScanTimeout(time.Duration(cfg.Index.TimeoutSecs) * time.Second),
		refdata.WithScanRetry(resilience.ScanPolicy(cfg.Index.Retries)),
	}
	if pool != nil {
		opts = append(opts, refdata.WithIndex(index.NewPostgresScanner(pool, index.Config{
			Table:             cfg.Index.Table,
			IDColumn:          cfg.Index.IDColumn,
			ContentTypeColumn: cfg.Index.ContentTypeColumn,
			MetadataColumn:    cfg.Index.MetadataColumn,
		})))
	} else {
		zap.L().Debug("no document index for sqlite store; discovery is unavailable")
	}

	provider, err := suggest.New(cfg)
	if err != nil {
		env.Close()
		return nil, err
	}
	if provider != nil {
		opts = append(opts,
			refdata.WithSuggestionProvider(provider, time.Duration(cfg.Suggest.TimeoutSecs)*time.Second),
			refdata.WithProviderBreaker(resilience.ProviderBreaker(cfg.Suggest.FailureThreshold, cfg.Suggest.ResetTimeoutSecs)),
		)
	}

	if cfg.Cache.RedisAddr != "" {
		bus, err := cachebus.Connect(ctx, cfg.Cache.RedisAddr, cfg.Cache.Channel)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Bus = bus
		opts = append(opts, refdata.WithInvalidator(bus))
	}

	env.Engine = refdata.NewEngine(st, opts...)

	if subscribe && env.Bus != nil {
		if err := env.Bus.Subscribe(ctx, env.Engine.InvalidateLocal); err != nil {
			env.Close()
			return nil, err
		}
	}
	return env, nil
}
