// Package cache implements the two-tier answer cache (C2): a remote shared
// backend when configured, with a bounded in-process LRU tier that every
// write and invalidate also reaches. Reads go to the remote tier while it is
// reachable and to the in-process tier otherwise. On remote-backend failure, operations
// fall back transparently to the in-process tier for the duration of the
// outage, logging a single warning per outage (grounded on a
// runbook.Cache TTL-checked map, generalized to two tiers).
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/edge-tutor/node/pkg/models"
	"github.com/edge-tutor/node/pkg/ports"
)

// Cache is the production C2 implementation.
type Cache struct {
	local  *localLRU
	remote remoteBackend // nil when sovereign / no remote_addr configured
	ttl    time.Duration
	log    *slog.Logger

	statsMu        sync.Mutex
	hits           int64
	misses         int64
	remoteOutage   bool // true while the remote tier is known-unreachable
}

// New builds a Cache. remote may be nil (local-only tier).
func New(maxEntries int, ttl time.Duration, clock ports.ClockPort, remote remoteBackend, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		local:  newLocalLRU(maxEntries, clock),
		remote: remote,
		ttl:    ttl,
		log:    logger,
	}
}

// NewRedisBacked builds a Cache with a Redis remote tier, or returns a
// local-only Cache with a logged warning if the connection fails — a
// misconfigured remote cache should degrade, not prevent startup.
func NewRedisBacked(ctx context.Context, maxEntries int, ttl time.Duration, clock ports.ClockPort, remoteAddr string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if remoteAddr == "" {
		return New(maxEntries, ttl, clock, nil, logger)
	}
	backend, err := newRedisBackend(ctx, remoteAddr)
	if err != nil {
		logger.Warn("remote cache unavailable at startup, running local-only", "error", err)
		return New(maxEntries, ttl, clock, nil, logger)
	}
	return New(maxEntries, ttl, clock, backend, logger)
}

// Get implements get(key) → Answer | absent.
func (c *Cache) Get(ctx context.Context, key string) (models.Answer, bool) {
	if c.remote != nil {
		ans, ok, err := c.remote.get(ctx, key)
		if err == nil {
			c.recordRemoteHealthy()
			c.record(ok)
			if ok {
				return ans, true
			}
			// Remote is healthy and authoritative on a miss: the local
			// tier may still hold the entry from a Put that reached only
			// the local tier during an outage, but remote absence wins
			// once remote is reachable.
			return models.Answer{}, false
		}
		c.logRemoteOutageOnce(err)
	}

	ans, ok := c.local.get(key)
	c.record(ok)
	return ans, ok
}

// Put implements put(key, answer, ttl) with default ttl = c.ttl.
func (c *Cache) Put(ctx context.Context, key string, answer models.Answer) {
	c.local.put(key, answer, c.ttl)
	if c.remote != nil {
		if err := c.remote.put(ctx, key, answer, c.ttl); err != nil {
			c.logRemoteOutageOnce(err)
		} else {
			c.recordRemoteHealthy()
		}
	}
}

// Invalidate implements invalidate(pattern).
func (c *Cache) Invalidate(ctx context.Context, pattern string) int {
	n := c.local.invalidate(pattern)
	if c.remote != nil {
		removed, err := c.remote.invalidate(ctx, pattern)
		if err != nil {
			c.logRemoteOutageOnce(err)
		} else {
			c.recordRemoteHealthy()
			if removed > n {
				n = removed
			}
		}
	}
	return n
}

// Close releases the remote connection, if any.
func (c *Cache) Close() error {
	if c.remote == nil {
		return nil
	}
	return c.remote.close()
}

func (c *Cache) record(hit bool) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}

func (c *Cache) logRemoteOutageOnce(err error) {
	c.statsMu.Lock()
	alreadyWarned := c.remoteOutage
	c.remoteOutage = true
	c.statsMu.Unlock()
	if !alreadyWarned {
		c.log.Warn("remote cache tier unreachable, falling back to local tier", "error", err)
	}
}

func (c *Cache) recordRemoteHealthy() {
	c.statsMu.Lock()
	c.remoteOutage = false
	c.statsMu.Unlock()
}

// Stats implements stats() → hits, misses, hit-rate, key-count, backend-kind.
type Stats struct {
	Hits        int64
	Misses      int64
	HitRate     float64
	KeyCount    int
	BackendKind string // "remote" | "local"
}

func (c *Cache) Stats() Stats {
	c.statsMu.Lock()
	hits, misses := c.hits, c.misses
	c.statsMu.Unlock()

	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	kind := "local"
	if c.remote != nil {
		kind = "remote"
	}

	return Stats{
		Hits:        hits,
		Misses:      misses,
		HitRate:     hitRate,
		KeyCount:    c.local.count(),
		BackendKind: kind,
	}
}
