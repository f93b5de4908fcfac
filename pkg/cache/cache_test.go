package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/timemachine/pkg/page"
)

type countingObserver struct {
	hits, misses, errs atomic.Int32
}

func (o *countingObserver) CacheHit(string) { o.hits.Add(1) }

func (o *countingObserver) CacheMiss(string) { o.misses.Add(1) }

func (o *countingObserver) CacheError(string, string) { o.errs.Add(1) }

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("backend down")
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("backend down")
}

func (failingStore) Close() error { return nil }

func newMemory(t *testing.T) *Memory {
	t.Helper()
	m, err := NewMemory(MemoryConfig{MaxEntries: 1000, WaitOnSet: true})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func testKey(kind string) Key {
	return Key{
		Kind:     kind,
		Identity: page.NewIdentity(page.NamespaceMain, "Foo").WithPageID(3),
		Target:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestKeyString(t *testing.T) {
	k := testKey("revision_at")
	assert.Equal(t, "timemachine:revision_at:0:Foo:3:1577836800", k.String())

	other := k
	other.Target = other.Target.Add(24 * time.Hour)
	assert.NotEqual(t, k.String(), other.String())
}

func TestGetOrComputeCachesNoneAndValues(t *testing.T) {
	ctx := context.Background()
	obs := &countingObserver{}
	c := New(newMemory(t), WithObserver(obs))

	calls := 0
	compute := func(context.Context) (Entry, error) {
		calls++
		return Entry{Found: false}, nil
	}

	e, err := c.GetOrCompute(ctx, testKey("revision_at"), compute)
	require.NoError(t, err)
	assert.False(t, e.Found)

	e, err = c.GetOrCompute(ctx, testKey("revision_at"), compute)
	require.NoError(t, err)
	assert.False(t, e.Found)
	assert.Equal(t, 1, calls, "none must be cached too")
	assert.EqualValues(t, 1, obs.hits.Load())
	assert.EqualValues(t, 1, obs.misses.Load())

	want := Entry{Found: true, Identity: page.NewIdentity(page.NamespaceTemplate, "Old").WithPageID(9)}
	got, err := c.GetOrCompute(ctx, testKey("identity_at"), func(context.Context) (Entry, error) { return want, nil })
	require.NoError(t, err)
	got, err = c.GetOrCompute(ctx, testKey("identity_at"), func(context.Context) (Entry, error) {
		t.Fatal("expected cached value")
		return Entry{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGetOrComputeDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	c := New(newMemory(t))

	boom := errors.New("store unavailable")
	_, err := c.GetOrCompute(ctx, testKey("revision_at"), func(context.Context) (Entry, error) {
		return Entry{}, boom
	})
	assert.ErrorIs(t, err, boom)

	e, err := c.GetOrCompute(ctx, testKey("revision_at"), func(context.Context) (Entry, error) {
		return Entry{Found: true, Value: 42}, nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 42, e.Value)
}

func TestBackendFailureFallsBackToCompute(t *testing.T) {
	ctx := context.Background()
	obs := &countingObserver{}
	c := New(failingStore{}, WithObserver(obs))

	e, err := c.GetOrCompute(ctx, testKey("revision_at"), func(context.Context) (Entry, error) {
		return Entry{Found: true, Value: 7}, nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 7, e.Value)
	assert.EqualValues(t, 2, obs.errs.Load())
}

func TestNilStoreDisablesCaching(t *testing.T) {
	c := New(nil)
	calls := 0
	for i := 0; i < 2; i++ {
		_, err := c.GetOrCompute(context.Background(), testKey("revision_at"), func(context.Context) (Entry, error) {
			calls++
			return Entry{Found: true}, nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 50*time.Millisecond))
	val, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	assert.Eventually(t, func() bool {
		_, ok, _ := m.Get(ctx, "k")
		return !ok
	}, 3*time.Second, 20*time.Millisecond)
}

func TestMemoryHoldsConfiguredEntries(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemory(MemoryConfig{MaxEntries: 100, WaitOnSet: true})
	require.NoError(t, err)
	defer m.Close()

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, m.Set(ctx, fmt.Sprintf("key-%d", i), []byte{byte(i)}, time.Hour))
	}
	for i := 0; i < n; i++ {
		val, ok, err := m.Get(ctx, fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		require.True(t, ok, "key-%d was evicted", i)
		assert.Equal(t, []byte{byte(i)}, val)
	}
}

func TestBadgerBackend(t *testing.T) {
	ctx := context.Background()
	b, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer b.Close()

	_, ok, err := b.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	c := New(b)
	calls := 0
	for i := 0; i < 2; i++ {
		e, err := c.GetOrCompute(ctx, testKey("move_source_after"), func(context.Context) (Entry, error) {
			calls++
			return Entry{Found: true, Value: 12}, nil
		})
		require.NoError(t, err)
		assert.EqualValues(t, 12, e.Value)
	}
	assert.Equal(t, 1, calls)
}

func TestBadgerRequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}

func TestBadgerPersistentWithGC(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := OpenBadger(BadgerConfig{Path: dir, GCInterval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Hour))
	require.NoError(t, b.Close())

	b, err = OpenBadger(BadgerConfig{Path: dir})
	require.NoError(t, err)
	defer b.Close()
	val, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), val)
}
