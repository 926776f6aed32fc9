package workflowengine

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cordum/flowline/core/infra/config"
	"github.com/cordum/flowline/core/infra/logging"
	"github.com/cordum/flowline/core/infra/redisutil"
	"github.com/cordum/flowline/core/workflow"
)

// openStore selects the trace store backing. The returned Redis client is
// shared with the database integration and may be nil when Redis is not
// reachable for a non-Redis store.
func openStore(ctx context.Context, cfg *config.Config) (workflow.Store, redis.UniversalClient, error) {
	switch cfg.Store {
	case config.StoreRedis:
		client, err := redisutil.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		return workflow.NewRedisStoreWithClient(client), client, nil
	case config.StoreMemory, config.StoreBadger:
		var (
			store workflow.Store
			err   error
		)
		if cfg.Store == config.StoreMemory {
			store, err = workflow.NewMemoryStore()
		} else {
			store, err = workflow.NewBadgerStore(cfg.BadgerDir)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("open %s store: %w", cfg.Store, err)
		}
		client, err := redisutil.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logging.Warn(logComponent, "redis unavailable, database nodes disabled", "error", err)
			return store, nil, nil
		}
		return store, client, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
