package main

import (
	"context"
	"fmt"

	"norelock.dev/listenify/providerhost/internal/config"
	"norelock.dev/listenify/providerhost/internal/db/mongo"
	"norelock.dev/listenify/providerhost/internal/db/redis"
	"norelock.dev/listenify/providerhost/internal/db/sqlstore"
	"norelock.dev/listenify/providerhost/internal/registry"
	"norelock.dev/listenify/providerhost/internal/utils"
)

// openStore connects the configured durable config backend. The redis
// client is returned too when the backend is redis so it can be shared.
func openStore(ctx context.Context, cfg *config.Config, logger *utils.Logger) (registry.ConfigStore, *redis.Client, error) {
	switch cfg.Store.Backend {
	case config.StoreMemory:
		logger.Warn("Using in-memory provider config store; state is lost on restart")
		return registry.NewMemoryStore(), nil, nil

	case config.StoreRedis:
		client, err := redis.NewClient(cfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("redis store: %w", err)
		}
		return redis.NewConfigStore(client, cfg.Store.Namespace), client, nil

	case config.StoreMongoDB:
		client, err := mongo.NewClient(cfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("mongodb store: %w", err)
		}
		collection := cfg.Database.MongoDB.Collection
		if collection == "" {
			collection = mongo.DefaultConfigCollection
		}
		if err := mongo.EnsureIndexes(ctx, client, collection); err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, fmt.Errorf("mongodb store: %w", err)
		}
		return mongo.NewConfigStore(client, collection), nil, nil

	case config.StorePostgres, config.StoreSQLite:
		driver := sqlstore.DriverPostgres
		if cfg.Store.Backend == config.StoreSQLite {
			driver = sqlstore.DriverSQLite
		}
		store, err := sqlstore.Open(ctx, driver, cfg.Database.SQL.DSN, cfg.Database.SQL.Table, cfg.Database.SQL.MaxOpenConns, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("%s store: %w", cfg.Store.Backend, err)
		}
		return store, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
