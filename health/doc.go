// Package health provides health checks for the framework's storage
// adapters and repositories.
//
// # Health Check Functions
//
// The package provides one check constructor per dependency kind:
//
//   - Redis: Verify a Redis connection with PING
//   - Etcd: Verify an etcd connection with a ranged read
//   - Bun: Verify a SQL database with a ping
//   - Repository: Verify a repository with a count probe
//   - Combine: Aggregate statuses into a single status
//   - Run: Evaluate checks and combine their statuses
//
// Each check applies a five second timeout when the caller's context
// carries no deadline, so probes never hang a readiness endpoint.
//
// # Usage Example
//
//	import (
//	    "context"
//	    "github.com/datumkit/datum/health"
//	)
//
//	status := health.Run(ctx,
//	    health.Redis(client),
//	    health.Repository[Order, string](orders),
//	)
//	if status.IsUnhealthy() {
//	    log.Fatal(status.Message)
//	}
package health
