package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryDeduper implements Deduper in process memory for single-node
// deployments and tests.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryDeduper creates an in-process deduper.
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time)}
}

// MarkOnce records the key and reports whether this caller was first.
func (d *MemoryDeduper) MarkOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()

	expiresAt, exists := d.seen[key]
	if exists && now.Before(expiresAt) {
		return false, nil
	}

	d.seen[key] = now.Add(ttl)

	return true, nil
}
