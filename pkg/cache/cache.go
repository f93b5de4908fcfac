// ABOUTME: Read-through result cache for temporal resolver queries
// ABOUTME: Backend failures degrade to computing the value directly

package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nainya/timemachine/pkg/page"
	"github.com/nainya/timemachine/pkg/storage"
)

// DefaultTTL is how long a resolved answer is reused. Entries are not
// invalidated on edits or renames.
const DefaultTTL = 24 * time.Hour

// Store is a byte-oriented TTL cache backend
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Close() error
}

// Observer receives cache outcomes, typically for metrics
type Observer interface {
	CacheHit(kind string)
	CacheMiss(kind string)
	CacheError(kind, op string)
}

// Key identifies one cached resolver answer
type Key struct {
	Kind     string
	Identity page.Identity
	Target   time.Time
}

func (k Key) String() string {
	return fmt.Sprintf("timemachine:%s:%d:%s:%d:%d",
		k.Kind, k.Identity.Namespace, k.Identity.Name, k.Identity.PageID, k.Target.Unix())
}

// Entry is a cached answer. Found false is the explicit "none" marker.
type Entry struct {
	Found    bool
	Value    int64
	Identity page.Identity
}

// Cache wraps a Store with read-through semantics
type Cache struct {
	store    Store
	ttl      time.Duration
	log      zerolog.Logger
	observer Observer
}

// Option configures a Cache
type Option func(*Cache)

// WithTTL overrides DefaultTTL
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithLogger sets the logger used for backend failures
func WithLogger(log zerolog.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// WithObserver sets the outcome observer
func WithObserver(o Observer) Option {
	return func(c *Cache) { c.observer = o }
}

// New creates a cache over store. A nil store disables caching.
func New(store Store, opts ...Option) *Cache {
	if store == nil {
		store = Noop{}
	}
	c := &Cache{
		store: store,
		ttl:   DefaultTTL,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCompute returns the cached entry for key or computes and stores it.
// Concurrent misses on the same key may each compute; the last write wins.
// Errors from compute are returned and never cached.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, compute func(ctx context.Context) (Entry, error)) (Entry, error) {
	k := key.String()

	raw, ok, err := c.store.Get(ctx, k)
	switch {
	case err != nil:
		c.failed(key.Kind, "get", k, err)
	case ok:
		entry, derr := decodeEntry(raw)
		if derr == nil {
			c.hit(key.Kind)
			return entry, nil
		}
		c.failed(key.Kind, "decode", k, derr)
	default:
		c.miss(key.Kind)
	}

	entry, err := compute(ctx)
	if err != nil {
		return Entry{}, err
	}

	if err := c.store.Set(ctx, k, encodeEntry(entry), c.ttl); err != nil {
		c.failed(key.Kind, "set", k, err)
	}
	return entry, nil
}

// Close releases the backend
func (c *Cache) Close() error {
	return c.store.Close()
}

func (c *Cache) hit(kind string) {
	if c.observer != nil {
		c.observer.CacheHit(kind)
	}
}

func (c *Cache) miss(kind string) {
	if c.observer != nil {
		c.observer.CacheMiss(kind)
	}
}

func (c *Cache) failed(kind, op, key string, err error) {
	c.log.Warn().Err(err).Str("op", op).Str("key", key).Msg("cache backend failure, querying store directly")
	if c.observer != nil {
		c.observer.CacheError(kind, op)
	}
}

func encodeEntry(e Entry) []byte {
	return storage.EncodeValues([]storage.Value{
		storage.Bool(e.Found),
		storage.NewInt64Value(e.Value),
		storage.NewInt64Value(int64(e.Identity.Namespace)),
		storage.NewStringValue(e.Identity.Name),
		storage.NewInt64Value(e.Identity.PageID),
	})
}

func decodeEntry(raw []byte) (Entry, error) {
	vals, err := storage.DecodeValues(raw)
	if err != nil {
		return Entry{}, err
	}
	if len(vals) != 5 {
		return Entry{}, fmt.Errorf("cache entry: expected 5 columns, got %d", len(vals))
	}
	return Entry{
		Found: vals[0].U64 == 1,
		Value: vals[1].I64,
		Identity: page.Identity{
			Namespace: int(vals[2].I64),
			Name:      string(vals[3].Str),
			PageID:    vals[4].I64,
		},
	}, nil
}

// Noop never stores anything
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (Noop) Close() error { return nil }
