// Package driver opens the configured store backend. Kept out of package
// store so the interface package does not drag every driver into its
// import graph.
package driver

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/Ruvo-Inc/mailq/internal/config"
	"github.com/Ruvo-Inc/mailq/internal/store"
	mongostore "github.com/Ruvo-Inc/mailq/internal/store/mongo"
	pgstore "github.com/Ruvo-Inc/mailq/internal/store/postgres"
)

func Open(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, errors.New("POSTGRES_DSN required for the postgres store")
		}
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, errors.Wrap(err, "connect postgres")
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "ping postgres")
		}
		return pgstore.New(pool), nil
	case "mongo":
		if cfg.MongoURI == "" {
			return nil, errors.New("MONGO_URI required for the mongo store")
		}
		client, err := mongod.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, errors.Wrap(err, "connect mongo")
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(ctx)
			return nil, errors.Wrap(err, "ping mongo")
		}
		return mongostore.New(client, cfg.MongoDB), nil
	default:
		return nil, errors.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}
