package app

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/nextmed-labs/trustledger/pkg/config"
	"github.com/nextmed-labs/trustledger/pkg/db"
	"github.com/nextmed-labs/trustledger/pkg/logger"
	"github.com/nextmed-labs/trustledger/pkg/migrate"
	"github.com/nextmed-labs/trustledger/pkg/pubsub"
	"github.com/nextmed-labs/trustledger/pkg/redis"
)

// Infra holds the optional infrastructure clients for a process.
type Infra struct {
	DB     *db.Client
	Redis  *redis.Client
	PubSub *pubsub.Client
}

// OpenInfra connects only what the configuration enables: the database in db persistence
// mode, Redis when an address is set, and Pub/Sub when enabled.
func OpenInfra(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Infra, error) {
	infra := &Infra{}

	if cfg.FeatureFlags.UsesDatabase() {
		client, err := db.New(ctx, cfg.DB, cfg.FeatureFlags, logg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap database: %w", err)
		}
		infra.DB = client
		if err := migrate.MaybeRunDev(ctx, cfg, logg, client); err != nil {
			return nil, multierr.Append(fmt.Errorf("dev migrations: %w", err), infra.Close())
		}
	}

	if cfg.Redis.Configured() {
		client, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("bootstrap redis: %w", err), infra.Close())
		}
		infra.Redis = client
	}

	if cfg.PubSub.Enabled {
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("bootstrap pubsub: %w", err), infra.Close())
		}
		infra.PubSub = client
	}

	return infra, nil
}

// Close releases every opened client and reports all failures together.
func (i *Infra) Close() error {
	if i == nil {
		return nil
	}
	var err error
	if i.PubSub != nil {
		err = multierr.Append(err, i.PubSub.Close())
	}
	if i.Redis != nil {
		err = multierr.Append(err, i.Redis.Close())
	}
	if i.DB != nil {
		err = multierr.Append(err, i.DB.Close())
	}
	return err
}
