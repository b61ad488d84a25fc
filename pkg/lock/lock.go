// Package lock provides the single-flight guard used to keep one sweep
// running at a time across engine instances.
package lock

import (
	"context"
	"time"
)

// UnlockFunc releases an acquired lock.
type UnlockFunc func(ctx context.Context) error

// Locker acquires named locks without blocking. A held lock reports
// ok=false instead of waiting, so callers can refuse overlapping work.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, bool, error)
}
