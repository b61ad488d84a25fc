package cmd

import (
	"fmt"

	backend "github.com/redis/go-redis/v9"

	"github.com/dukex/itinera/pkg/dedup"
	"github.com/dukex/itinera/pkg/lock"
)

const redisPrefix = "itinera:"

// NewLocker returns a Redis locker when a URL is configured, otherwise an
// in-process one. Multi-instance deployments need Redis so sweeps stay
// single flight across processes.
func NewLocker(redisURL string) lock.Locker {
	if redisURL == "" {
		return lock.NewMemoryLocker()
	}

	return lock.NewRedisLocker(newRedisClient(redisURL), redisPrefix)
}

// NewDeduper mirrors NewLocker for callback deduplication.
func NewDeduper(redisURL string) dedup.Deduper {
	if redisURL == "" {
		return dedup.NewMemoryDeduper()
	}

	return dedup.NewRedisDeduper(newRedisClient(redisURL), redisPrefix)
}

func newRedisClient(redisURL string) *backend.Client {
	opts, err := backend.ParseURL(redisURL)
	if err != nil {
		panic(fmt.Errorf("invalid redis url: %w", err))
	}

	return backend.NewClient(opts)
}
