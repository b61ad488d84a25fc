package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker implements Locker in process memory. It backs single-node
// deployments and tests; it provides no cross-instance guarantees.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryEntry
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]memoryEntry)}
}

// TryAcquire attempts the lock once, honoring expired entries.
func (l *MemoryLocker) TryAcquire(_ context.Context, key string, ttl time.Duration) (UnlockFunc, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	entry, held := l.locks[key]
	if held && now.Before(entry.expiresAt) {
		return nil, false, nil
	}

	token := uuid.NewString()
	l.locks[key] = memoryEntry{token: token, expiresAt: now.Add(ttl)}

	unlock := func(_ context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()

		if current, ok := l.locks[key]; ok && current.token == token {
			delete(l.locks, key)
		}

		return nil
	}

	return unlock, true, nil
}
