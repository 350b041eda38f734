// Package cache provides the response cache behind the fetch orchestrator.
// The cache is an optional dependency: backend failures and a nil store both
// degrade to "miss", never to a request failure.
package cache

import (
	"context"
	"time"
)

// Store is a TTL-keyed byte store. Implementations must be safe for
// concurrent use. Get returns ok=false for missing, expired, or
// backend-error cases alike.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
}
