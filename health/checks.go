package health

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/datumkit/datum/repository"
)

const defaultTimeout = 5 * time.Second

// Check probes one dependency. Checks are safe to run repeatedly from
// any goroutine.
type Check func(ctx context.Context) Status

// Run evaluates the checks in order and combines their statuses.
func Run(ctx context.Context, checks ...Check) Status {
	statuses := make([]Status, len(checks))
	for i, check := range checks {
		statuses[i] = check(ctx)
	}
	return Combine(statuses...)
}

// withDeadline applies the default timeout when ctx carries none.
func withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultTimeout)
}

// Redis verifies a Redis connection with PING.
func Redis(client *redis.Client) Check {
	return func(ctx context.Context) Status {
		if client == nil {
			return Unhealthy("redis client is nil", nil)
		}
		ctx, cancel := withDeadline(ctx)
		defer cancel()

		start := time.Now()
		if err := client.Ping(ctx).Err(); err != nil {
			return Unhealthy("redis ping failed", map[string]any{
				"addr":  client.Options().Addr,
				"error": err.Error(),
			})
		}
		return Healthy(fmt.Sprintf("redis at %s responded in %s",
			client.Options().Addr, time.Since(start).Round(time.Millisecond)))
	}
}

// Etcd verifies an etcd connection with a ranged read of a probe key.
func Etcd(client *clientv3.Client) Check {
	return func(ctx context.Context) Status {
		if client == nil {
			return Unhealthy("etcd client is nil", nil)
		}
		ctx, cancel := withDeadline(ctx)
		defer cancel()

		if _, err := client.Get(ctx, "health", clientv3.WithCountOnly()); err != nil {
			return Unhealthy("etcd read failed", map[string]any{
				"endpoints": client.Endpoints(),
				"error":     err.Error(),
			})
		}
		return Healthy(fmt.Sprintf("etcd reachable at %v", client.Endpoints()))
	}
}

// Bun verifies a SQL database with a ping.
func Bun(db *bun.DB) Check {
	return func(ctx context.Context) Status {
		if db == nil {
			return Unhealthy("database handle is nil", nil)
		}
		ctx, cancel := withDeadline(ctx)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			return Unhealthy("database ping failed", map[string]any{
				"dialect": db.Dialect().Name().String(),
				"error":   err.Error(),
			})
		}
		return Healthy(fmt.Sprintf("%s database reachable", db.Dialect().Name()))
	}
}

// Repository verifies a repository with a count probe and reports the
// entity population as a detail. Stores that expose their lifecycle
// binding are named by their entity.
func Repository[T any, ID comparable](repo repository.CrudRepository[T, ID]) Check {
	name := "repository"
	if repo != nil {
		name = fmt.Sprintf("%T", repo)
		if mp, ok := repo.(interface{ Meta() *repository.Meta[T, ID] }); ok {
			name = mp.Meta().Entity().Name()
		}
	}
	return func(ctx context.Context) Status {
		if repo == nil {
			return Unhealthy("repository is nil", nil)
		}
		ctx, cancel := withDeadline(ctx)
		defer cancel()

		count, err := repo.Count(ctx)
		if err != nil {
			return Unhealthy(fmt.Sprintf("repository %s count failed", name), map[string]any{
				"entity": name,
				"error":  err.Error(),
			})
		}
		return Status{
			State:   StateHealthy,
			Message: fmt.Sprintf("repository %s holds %d entities", name, count),
			Details: map[string]any{"entity": name, "count": count},
		}
	}
}
