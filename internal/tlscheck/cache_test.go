package tlscheck

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheStoreAndLookup(t *testing.T) {
	ctx := testCtx(t)
	clk := clock.NewMock()
	clk.Add(time.Hour)
	c := newTestCache(t, clk)

	_, ok := c.Lookup(ctx, "example.com")
	assert.False(t, ok)

	c.Store(ctx, "example.com", true)
	rec, ok := c.Lookup(ctx, "example.com")
	require.True(t, ok)
	assert.Equal(t, "example.com", rec.Host)
	assert.True(t, rec.HTTPSEnabled)
	assert.True(t, rec.ObservedAt.Equal(clk.Now()))
}

func TestCacheStoreOverwrites(t *testing.T) {
	ctx := testCtx(t)
	clk := clock.NewMock()
	c := newTestCache(t, clk)

	c.Store(ctx, "example.com", true)
	clk.Add(time.Minute)
	c.Store(ctx, "example.com", false)

	rec, ok := c.Lookup(ctx, "example.com")
	require.True(t, ok)
	assert.False(t, rec.HTTPSEnabled)
	assert.True(t, rec.ObservedAt.Equal(clk.Now()))
}

func TestCacheLookupReturnsStaleRecords(t *testing.T) {
	ctx := testCtx(t)
	clk := clock.NewMock()
	c := newTestCache(t, clk)

	c.Store(ctx, "example.com", true)
	clk.Add(24 * time.Hour)

	rec, ok := c.Lookup(ctx, "example.com")
	require.True(t, ok, "freshness is the caller's decision")
	assert.False(t, rec.Fresh(clk.Now(), time.Hour))
}

func TestCacheCorruptRecordIsAbsent(t *testing.T) {
	ctx := testCtx(t)
	kv := memoryKV(t)
	require.NoError(t, kv.Set(ctx, recordKey("example.com"), []byte("{not json")))

	c := NewCache(kv, discardLogger())
	_, ok := c.Lookup(ctx, "example.com")
	assert.False(t, ok)
}

func TestCacheRAMTier(t *testing.T) {
	ctx := testCtx(t)
	kv := memoryKV(t)
	c := NewCache(kv, discardLogger(), WithRAMEntries(2))

	c.Store(ctx, "a.test", true)
	assert.Equal(t, 1, c.ramLen())

	// A record written by another instance is promoted on first read.
	other := NewCache(kv, discardLogger())
	other.Store(ctx, "b.test", false)
	_, ok := c.Lookup(ctx, "b.test")
	require.True(t, ok)
	assert.Equal(t, 2, c.ramLen())

	c.Store(ctx, "c.test", true)
	assert.Equal(t, 2, c.ramLen(), "RAM tier is bounded")

	rec, ok := c.Lookup(ctx, "a.test")
	require.True(t, ok, "evicted records are still served from the store")
	assert.True(t, rec.HTTPSEnabled)
}

type failingKV struct{ err error }

func (f failingKV) Get(context.Context, string) ([]byte, bool, error) { return nil, false, f.err }
func (f failingKV) Set(context.Context, string, []byte) error { return f.err }
func (f failingKV) Ping(context.Context) error { return f.err }
func (f failingKV) Close() error { return nil }

func TestCacheStoreErrorsAreAbsorbed(t *testing.T) {
	ctx := testCtx(t)
	stats := newStatsCollector()
	c := NewCache(failingKV{err: errors.New("disk full")}, discardLogger(), withCacheStats(stats))

	rec := c.Store(ctx, "example.com", true)
	assert.True(t, rec.HTTPSEnabled)
	assert.Equal(t, uint64(1), stats.Snapshot().StoreFailures)

	_, ok := c.Lookup(ctx, "example.com")
	assert.False(t, ok)
}
