package history

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pitabwire/triage/internal/config"
)

// Open builds the store selected by cfg. It returns a nil store when history
// is disabled. The returned close function is never nil.
func Open(ctx context.Context, cfg config.HistoryConfig, logger *zap.Logger) (Store, func(), error) {
	noop := func() {}
	if !cfg.Enabled {
		return nil, noop, nil
	}

	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory history store", zap.Int("max_entries", cfg.MaxEntries))
		return NewMemoryStore(cfg.MaxEntries), noop, nil

	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, noop, fmt.Errorf("history store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, noop, fmt.Errorf("history store: parse DSN: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		}
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, noop, fmt.Errorf("history store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, noop, fmt.Errorf("history store: ping: %w", err)
		}

		store := NewPgStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, noop, fmt.Errorf("history store: %w", err)
		}
		logger.Info("using postgres history store")
		return store, pool.Close, nil

	case "sqlite":
		store, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, noop, fmt.Errorf("history store: %w", err)
		}
		logger.Info("using sqlite history store", zap.String("path", cfg.Path))
		return store, func() { _ = store.Close() }, nil

	default:
		return nil, noop, fmt.Errorf("unsupported history store driver: %q", cfg.Driver)
	}
}
