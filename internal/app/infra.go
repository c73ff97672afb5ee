package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/studyhub/league-core/config"
	"github.com/studyhub/league-core/internal/infrastructure/persistence/postgres"
	"github.com/studyhub/league-core/internal/infrastructure/persistence/redis"
	"github.com/studyhub/league-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// INFRASTRUCTURE
// ══════════════════════════════════════════════════════════════════════════════

// Infra holds the external connections behind a Stores value.
type Infra struct {
	Stores   Stores
	Postgres *postgres.Connection
	Redis    *redis.Cache
}

// Connect opens Postgres and Redis as configured. Without a database URL the
// stores are process-local, which only suits development. A Redis that cannot
// be reached is logged and replaced by in-process locks and standings.
func Connect(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Infra, error) {
	log = logger.OrDefault(log).With(logger.Component("infra"))
	infra := &Infra{}

	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		infra.Stores = MemoryStores()
	} else {
		conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, postgres.PoolSettings{
			MaxConns:        int32(cfg.Database.MaxOpenConns),
			MinConns:        int32(cfg.Database.MaxIdleConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, err
		}
		infra.Postgres = conn
		log.Info("database connection established")

		if cfg.Database.AutoMigrate {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				conn.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			log.Info("database schema is up to date")
		}
		infra.Stores = PostgresStores(conn)
	}

	if cfg.Redis.Disabled {
		return infra, nil
	}
	cache, err := redis.NewCache(ctx, redis.Config{
		URL:          cfg.Redis.URL,
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   3,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		log.Warn("redis unavailable, using in-process locks and standings", logger.Err(err))
		return infra, nil
	}
	infra.Redis = cache
	infra.Stores.Standings = redis.NewStandingsCache(cache)
	infra.Stores.Locker = redis.NewUserLocker(cache, log)
	log.Info("redis connection established")
	return infra, nil
}

// Close releases the connections.
func (i *Infra) Close() {
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
	if i.Postgres != nil {
		i.Postgres.Close()
	}
}
