package backend

import (
	"context"
	"fmt"

	"github.com/qrtrail/scanhistory/pkg/config"
	"github.com/qrtrail/scanhistory/pkg/storage"
	"github.com/qrtrail/scanhistory/pkg/storage/file"
	"github.com/qrtrail/scanhistory/pkg/storage/memory"
	pgstore "github.com/qrtrail/scanhistory/pkg/storage/postgres"
	redisstore "github.com/qrtrail/scanhistory/pkg/storage/redis"
)

// Open builds the slot named by cfg.Backend. The returned close function
// releases any connections and is never nil.
func Open(ctx context.Context, cfg config.Config) (storage.Slot, func(), error) {
	noop := func() {}

	switch cfg.Backend {
	case "memory":
		return memory.New(), noop, nil
	case "file":
		slot, err := file.Open(cfg.Dir)
		if err != nil {
			return nil, noop, err
		}
		return slot, noop, nil
	case "redis":
		client, err := redisstore.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return nil, noop, err
		}
		return redisstore.New(client), func() { _ = client.Close() }, nil
	case "postgres":
		pool, err := pgstore.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, noop, err
		}
		return pgstore.New(pool), pool.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}
