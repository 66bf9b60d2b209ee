// Package cache implements the two-tier cache: a bounded in-process LRU in
// front of a shared remote store, with a circuit breaker isolating remote
// outages. Remote failures degrade to cache misses; callers recompute.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/config"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/events"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/metrics"
)

// CacheUnavailable reports local-tier corruption, the only cache condition
// surfaced to callers as an error.
type CacheUnavailable struct {
	Key string
	Err error
}

func (e *CacheUnavailable) Error() string {
	return fmt.Sprintf("cache entry %q unreadable: %v", e.Key, e.Err)
}

func (e *CacheUnavailable) Unwrap() error { return e.Err }

// Stats is a point-in-time counter snapshot across both tiers.
type Stats struct {
	LocalHits       uint64 `json:"local_hits"`
	LocalMisses     uint64 `json:"local_misses"`
	LocalEvictions  uint64 `json:"local_evictions"`
	LocalSize       int    `json:"local_size"`
	RemoteHits      uint64 `json:"remote_hits"`
	RemoteMisses    uint64 `json:"remote_misses"`
	RemoteErrors    uint64 `json:"remote_errors"`
	Compressions    uint64 `json:"compressions"`
	BreakerStatus   string `json:"breaker_status"`
	InvalidatedKeys uint64 `json:"invalidated_keys"`
}

// Tier is the cache facade handed to plugins and services.
type Tier struct {
	local      *localStore
	remote     RemoteStore
	breaker    *Breaker
	defaultTTL time.Duration
	threshold  int
	hub        *events.Hub
	logger     *slog.Logger

	remoteHits   atomic.Uint64
	remoteMisses atomic.Uint64
	remoteErrors atomic.Uint64
	compressions atomic.Uint64
	invalidated  atomic.Uint64
}

// New wires a Tier from config. remote may be nil, leaving a purely local
// cache; the breaker then never trips because nothing calls through it.
func New(cfg config.CacheConfig, remote RemoteStore, hub *events.Hub, logger *slog.Logger) *Tier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tier{
		local:      newLocalStore(cfg.LocalCapacity),
		remote:     remote,
		breaker:    NewBreaker(cfg.Breaker.FailureThreshold, cfg.Breaker.ResetTimeout),
		defaultTTL: cfg.DefaultTTL,
		threshold:  cfg.CompressionThreshold,
		hub:        hub,
		logger:     logger,
	}
}

// Get checks the local tier, then the remote tier if the breaker admits the
// call, backfilling the local tier on a remote hit. Remote trouble is a
// miss; local corruption is dropped, logged and also reported as a miss.
func (t *Tier) Get(ctx context.Context, key string) ([]byte, bool) {
	value, found, err := t.Lookup(ctx, key)
	if err != nil {
		t.logger.Error("corrupt local cache entry dropped", "key", key, "error", err)
		return nil, false
	}
	return value, found
}

// Lookup is Get with the local-corruption case surfaced as
// *CacheUnavailable instead of being swallowed. The corrupt entry is
// removed either way.
func (t *Tier) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	if stored, ok := t.local.get(key, time.Now()); ok {
		metrics.CacheHits.WithLabelValues("local").Inc()
		value, err := decode(stored)
		if err != nil {
			t.local.invalidate(key)
			return nil, false, &CacheUnavailable{Key: key, Err: err}
		}
		return value, true, nil
	}

	if t.remote == nil || !t.breaker.Allow() {
		metrics.CacheMisses.Inc()
		return nil, false, nil
	}

	stored, remaining, found, err := t.remote.Get(ctx, key)
	if err != nil {
		t.recordRemote(false)
		t.remoteErrors.Add(1)
		metrics.CacheMisses.Inc()
		t.logger.Warn("remote cache get failed", "key", key, "error", err)
		return nil, false, nil
	}
	t.recordRemote(true)

	if !found {
		t.remoteMisses.Add(1)
		metrics.CacheMisses.Inc()
		return nil, false, nil
	}

	value, err := decode(stored)
	if err != nil {
		t.remoteErrors.Add(1)
		metrics.CacheMisses.Inc()
		t.logger.Warn("undecodable remote cache entry treated as miss", "key", key, "error", err)
		return nil, false, nil
	}

	t.remoteHits.Add(1)
	metrics.CacheHits.WithLabelValues("remote").Inc()
	t.local.set(key, stored, t.backfillTTL(remaining), time.Now())
	return value, true, nil
}

// Set writes the local tier synchronously and the remote tier unless the
// breaker is open. A non-positive ttl uses the configured default.
func (t *Tier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = t.defaultTTL
	}

	stored, compressed := encode(value, t.threshold)
	if compressed {
		t.compressions.Add(1)
	}

	t.local.set(key, stored, ttl, time.Now())

	if t.remote == nil || !t.breaker.Allow() {
		return nil
	}
	if err := t.remote.Set(ctx, key, stored, ttl); err != nil {
		t.recordRemote(false)
		t.remoteErrors.Add(1)
		t.logger.Warn("remote cache set failed", "key", key, "error", err)
		return nil
	}
	t.recordRemote(true)
	return nil
}

// Invalidate removes keys matching a glob pattern from both tiers. Local
// removal is immediate; remote removal is best-effort because TTLs bound
// staleness anyway.
func (t *Tier) Invalidate(ctx context.Context, pattern string) (int, error) {
	removed := t.local.invalidate(pattern)

	if t.remote != nil && t.breaker.Allow() {
		n, err := t.remote.DeletePattern(ctx, pattern)
		removed += n
		if err != nil {
			t.recordRemote(false)
			t.remoteErrors.Add(1)
			t.logger.Warn("remote cache invalidation incomplete", "pattern", pattern, "error", err)
		} else {
			t.recordRemote(true)
		}
	}

	t.invalidated.Add(uint64(removed))
	if t.hub != nil {
		t.hub.Publish(events.TypeCacheInvalidated, map[string]any{
			"pattern": pattern,
			"removed": removed,
		})
	}
	return removed, nil
}

// Stats snapshots the tier counters.
func (t *Tier) Stats() Stats {
	hits, misses, evictions, size := t.local.snapshot()
	return Stats{
		LocalHits:       hits,
		LocalMisses:     misses,
		LocalEvictions:  evictions,
		LocalSize:       size,
		RemoteHits:      t.remoteHits.Load(),
		RemoteMisses:    t.remoteMisses.Load(),
		RemoteErrors:    t.remoteErrors.Load(),
		Compressions:    t.compressions.Load(),
		BreakerStatus:   string(t.breaker.Status()),
		InvalidatedKeys: t.invalidated.Load(),
	}
}

// Close releases the remote connection, if any.
func (t *Tier) Close() error {
	if t.remote == nil {
		return nil
	}
	return t.remote.Close()
}

// recordRemote feeds a remote call outcome to the breaker and publishes a
// breaker event when the outcome changed the circuit state.
func (t *Tier) recordRemote(ok bool) {
	before := t.breaker.Status()
	if ok {
		t.breaker.RecordSuccess()
	} else {
		t.breaker.RecordFailure()
	}
	after := t.breaker.Status()
	if before != after {
		t.logger.Warn("remote tier breaker changed", "from", string(before), "to", string(after))
		if t.hub != nil {
			t.hub.Publish(events.TypeBreakerChanged, map[string]any{
				"from": string(before),
				"to":   string(after),
			})
		}
	}
}

// backfillTTL is the lifetime for local backfills of remote hits: a quarter
// of the default TTL, but never beyond the remote entry's own remaining
// lifetime, so a backfill cannot serve a value past its original expiry.
func (t *Tier) backfillTTL(remaining time.Duration) time.Duration {
	ttl := time.Minute
	if t.defaultTTL > 0 {
		ttl = t.defaultTTL / 4
	}
	if remaining > 0 && remaining < ttl {
		ttl = remaining
	}
	return ttl
}
