package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/firmdesk/firmdesk/internal/rbac"
)

// TaskTypeVersionSweep persists the in-redis cache version counters so a
// cold redis comes back with counters at least as high as the last sweep.
const TaskTypeVersionSweep = "rbac:cache_version_sweep"

// NewVersionSweepTask constructs the sweep task. It carries no payload.
func NewVersionSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeVersionSweep, nil)
}

// NewVersionSweepHandler returns the handler for TaskTypeVersionSweep. It
// scans the rbac:ver:* keyspace and writes each counter through the
// repository.
func NewVersionSweepHandler(repo rbac.Repository, client *redis.Client, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		iter := client.Scan(ctx, 0, "rbac:ver:*", 200).Iterator()
		swept := 0
		for iter.Next(ctx) {
			key := iter.Val()
			version, err := parseVersionKey(ctx, client, key)
			if err != nil {
				logger.Warn("version sweep key", slog.String("key", key), slog.Any("error", err))
				continue
			}
			if err := repo.SetCacheVersion(ctx, version); err != nil {
				return fmt.Errorf("jobs: persist cache version %s: %w", key, err)
			}
			swept++
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("jobs: scan cache versions: %w", err)
		}
		logger.Info("cache version sweep", slog.Int("keys", swept))
		return nil
	}
}

func parseVersionKey(ctx context.Context, client *redis.Client, key string) (rbac.CacheVersion, error) {
	raw, err := client.Get(ctx, key).Result()
	if err != nil {
		return rbac.CacheVersion{}, err
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return rbac.CacheVersion{}, err
	}
	rest := strings.TrimPrefix(key, "rbac:ver:")
	scope, scopeID, _ := strings.Cut(rest, ":")
	switch rbac.CacheScope(scope) {
	case rbac.ScopeGlobal, rbac.ScopeFirm, rbac.ScopeUser:
	default:
		return rbac.CacheVersion{}, fmt.Errorf("unknown scope %q", scope)
	}
	return rbac.CacheVersion{Scope: rbac.CacheScope(scope), ScopeID: scopeID, Version: count}, nil
}
