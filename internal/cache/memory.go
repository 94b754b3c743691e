package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// MemoryCache is an in-process cache with TinyLFU admission and per-entry TTL.
type MemoryCache struct {
	c *ristretto.Cache[string, []byte]
}

// NewMemoryCache creates a cache bounded to maxBytes of stored values.
func NewMemoryCache(maxBytes int64) (*MemoryCache, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters:        maxBytes / 64,
		MaxCost:            maxBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	return &MemoryCache{c: c}, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.c.SetWithTTL(key, value, int64(len(value))+1, ttl)
	m.c.Wait()
	return nil
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return v, nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.c.Del(key)
	return nil
}

func (m *MemoryCache) Close() error {
	m.c.Close()
	return nil
}
