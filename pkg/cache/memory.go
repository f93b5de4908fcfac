package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Memory is an in-process TTL cache backed by ristretto
type Memory struct {
	cache *ristretto.Cache[string, []byte]
	// sync waits for buffered writes so a Set is visible to the next Get
	sync bool
}

// MemoryConfig sizes the in-process cache
type MemoryConfig struct {
	MaxEntries int64
	// WaitOnSet makes writes visible immediately. Used by tests.
	WaitOnSet bool
}

// NewMemory creates a ristretto backed store
func NewMemory(cfg MemoryConfig) (*Memory, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100_000
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,

		// cost counts entries, not bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}
	return &Memory{cache: c, sync: cfg.WaitOnSet}, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, ok := m.cache.Get(key)
	return val, ok, nil
}

// Set stores val with a cost of one so MaxEntries bounds the entry count.
// A dropped write is not an error.
func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.cache.SetWithTTL(key, val, 1, ttl)
	if m.sync {
		m.cache.Wait()
	}
	return nil
}

func (m *Memory) Close() error {
	m.cache.Close()
	return nil
}
