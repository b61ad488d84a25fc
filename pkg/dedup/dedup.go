// Package dedup provides first-writer-wins idempotency keys for callback
// processing. Providers redeliver webhooks; the router marks each callback
// before acting so a redelivery becomes a no-op.
package dedup

import (
	"context"
	"time"
)

// Deduper records idempotency keys. MarkOnce returns true only for the
// first caller of a key within the ttl window.
type Deduper interface {
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
