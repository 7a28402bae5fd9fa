// Package app wires configuration into running components. Both binaries
// build their stores, caches and buses through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/patudom/cds-app/config"
	"github.com/patudom/cds-app/internal/domain/shared"
	"github.com/patudom/cds-app/internal/infrastructure/messaging"
	"github.com/patudom/cds-app/internal/infrastructure/persistence"
	"github.com/patudom/cds-app/internal/infrastructure/persistence/memory"
	"github.com/patudom/cds-app/internal/infrastructure/persistence/postgres"
	"github.com/patudom/cds-app/internal/infrastructure/persistence/redis"
	"github.com/patudom/cds-app/internal/infrastructure/persistence/sqlite"
	"github.com/patudom/cds-app/pkg/logger"
)

// OpenStore opens the backend named by cfg.Driver. Postgres schemas are
// migrated before the store is returned.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (persistence.Store, error) {
	log = log.With(logger.Component("store"), slog.String("driver", cfg.Driver))

	switch cfg.Driver {
	case config.DriverMemory:
		log.Info("using in-memory store, state is lost on exit")
		return memory.New(), nil

	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
		}
		log.Info("sqlite store opened", "path", cfg.Path)
		return st, nil

	case config.DriverPostgres:
		conn, err := OpenPostgres(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("database schema is up to date")
		return postgres.NewStore(conn), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// OpenPostgres connects and pings without migrating.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*postgres.Connection, error) {
	conn, err := postgres.NewConnection(ctx, cfg.Postgres())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")
	return conn, nil
}

// OpenCache connects to Redis when it is enabled. It returns nil without
// an error when it is not.
func OpenCache(ctx context.Context, cfg config.RedisConfig, log *slog.Logger) (*redis.Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	rc := cfg.Cache()
	cache, err := redis.NewCache(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("connect to redis %s: %w", rc.Addr(), err)
	}
	log.Info("redis connection established", "addr", rc.Addr())
	return cache, nil
}

// EventBus is a bus that must be closed.
type EventBus interface {
	shared.EventBus
	Close() error
}

// NewEventBus returns a bus relaying through Redis when cache holds a
// single-node client, and an in-process bus otherwise.
func NewEventBus(ctx context.Context, cache *redis.Cache, log *slog.Logger) (EventBus, error) {
	local := messaging.InMemoryEventBusConfig{Logger: log, EnableMetrics: true}
	if cache == nil {
		return messaging.NewInMemoryEventBus(local), nil
	}
	client, ok := cache.Client().(*goredis.Client)
	if !ok {
		return nil, errors.New("event relay needs a single-node redis client")
	}
	return messaging.NewRedisEventBus(ctx, messaging.RedisEventBusConfig{
		Client:         client,
		LocalBusConfig: local,
		Logger:         log,
	})
}
