package tlscheck

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
)

const recordKeyPrefix = "h:"

func recordKey(host string) string { return recordKeyPrefix + host }

// Cache reads and writes HostRecords. It never judges freshness; callers
// compare ObservedAt against their own TTL.
type Cache struct {
	kv    KV
	ram   *lru.Cache[string, HostRecord]
	clock clock.Clock
	log   *slog.Logger
	warn  *rateLimitedLogger
	stats *statsCollector
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock replaces the wall clock used to stamp records.
func WithClock(c clock.Clock) CacheOption {
	return func(cc *Cache) { cc.clock = c }
}

// WithRAMEntries keeps up to n records in process memory in front of the KV
// store. Zero disables the RAM tier.
func WithRAMEntries(n int) CacheOption {
	return func(cc *Cache) {
		if n <= 0 {
			cc.ram = nil
			return
		}
		ram, err := lru.New[string, HostRecord](n)
		if err != nil {
			return
		}
		cc.ram = ram
	}
}

func withCacheStats(s *statsCollector) CacheOption {
	return func(cc *Cache) { cc.stats = s }
}

func NewCache(kv KV, log *slog.Logger, opts ...CacheOption) *Cache {
	c := &Cache{
		kv:    kv,
		clock: clock.New(),
		log:   log,
		warn:  newRateLimitedLogger(log, time.Minute),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now is the time the cache stamps records with.
func (c *Cache) Now() time.Time { return c.clock.Now() }

// Lookup returns the stored record for host, fresh or not.
func (c *Cache) Lookup(ctx context.Context, host string) (HostRecord, bool) {
	if c.ram != nil {
		if rec, ok := c.ram.Get(host); ok {
			return rec, true
		}
	}

	b, ok, err := c.kv.Get(ctx, recordKey(host))
	if err != nil {
		c.log.Warn("cache read failed", "host", host, "error", err)
		return HostRecord{}, false
	}
	if !ok {
		return HostRecord{}, false
	}
	var rec HostRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		c.log.Warn("cache record corrupt", "host", host, "error", err)
		return HostRecord{}, false
	}
	if rec.Host == "" {
		rec.Host = host
	}
	if c.ram != nil {
		c.ram.Add(host, rec)
	}
	return rec, true
}

// Store records enabled for host as observed now. The previous record is
// overwritten.
func (c *Cache) Store(ctx context.Context, host string, enabled bool) HostRecord {
	rec := HostRecord{Host: host, HTTPSEnabled: enabled, ObservedAt: c.clock.Now().UTC()}
	if c.ram != nil {
		c.ram.Add(host, rec)
	}

	b, err := json.Marshal(rec)
	if err != nil {
		c.warn.Warn("cache encode failed", "host", host, "error", err)
		return rec
	}
	if err := c.kv.Set(ctx, recordKey(host), b); err != nil {
		c.warn.Warn("cache write failed", "host", host, "error", err)
		if c.stats != nil {
			c.stats.storeFailures.Add(1)
		}
	}
	return rec
}

func (c *Cache) ramLen() int {
	if c.ram == nil {
		return 0
	}
	return c.ram.Len()
}
