// Package cache memoises ranked FAQ matches in Redis, keyed by corpus
// fingerprint, processed query, and result count.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/corpus"
	pkgredis "github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/resilience"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "faq:"

// Store is the key-value backend. *pkgredis.Client satisfies it.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	HitRate      float64 `json:"hit_rate"`
	Bypassed     int64   `json:"bypassed"`
	BreakerState string  `json:"breaker_state"`

	Breaker resilience.Counts `json:"breaker"`
}

// QueryCache fronts retrieval with Redis. Backend failures degrade to
// computing the answer; they are never returned to callers.
type QueryCache struct {
	store    Store
	ttl      time.Duration
	breaker  *resilience.CircuitBreaker
	group    singleflight.Group
	logger   *slog.Logger
	hits     atomic.Int64
	misses   atomic.Int64
	bypassed atomic.Int64
}

func New(store Store, ttl time.Duration, breaker *resilience.CircuitBreaker) *QueryCache {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{})
	}
	return &QueryCache{
		store:   store,
		ttl:     ttl,
		breaker: breaker,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Key derives the cache key. Including the fingerprint makes entries from a
// previous corpus unreachable without an explicit flush.
func Key(fp corpus.Fingerprint, processed string, topN int) string {
	raw := fmt.Sprintf("%s|%s|%d", fp.Short(), processed, topN)
	sum := sha256.Sum256([]byte(raw))
	return keyPrefix + hex.EncodeToString(sum[:16])
}

// Get looks up key. A miss, decode failure or unavailable backend all
// report false.
func (c *QueryCache) Get(ctx context.Context, key string) ([]retrieval.Match, bool) {
	var data string
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.store.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		return err
	})
	if err != nil {
		c.noteFailure("cache get failed", key, err)
		c.misses.Add(1)
		return nil, false
	}
	if data == "" {
		c.misses.Add(1)
		return nil, false
	}
	var matches []retrieval.Match
	if err := json.Unmarshal([]byte(data), &matches); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return matches, true
}

// Set stores matches under key with the configured TTL.
func (c *QueryCache) Set(ctx context.Context, key string, matches []retrieval.Match) {
	data, err := json.Marshal(matches)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.noteFailure("cache set failed", key, err)
	}
}

// GetOrCompute returns cached matches for key, or runs compute once per key
// across concurrent callers and caches its result. The bool reports a hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	key string,
	compute func() ([]retrieval.Match, error),
) ([]retrieval.Match, bool, error) {
	if matches, ok := c.Get(ctx, key); ok {
		return matches, true, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		matches, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, matches)
		return matches, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]retrieval.Match), false, nil
}

// Invalidate removes every cached answer.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	var deleted int64
	err := c.breaker.Execute(func() error {
		var err error
		deleted, err = c.store.FlushByPattern(ctx, keyPrefix+"*")
		return err
	})
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	s := Stats{
		Hits:     hits,
		Misses:   misses,
		Bypassed: c.bypassed.Load(),
		Breaker:  c.breaker.Counts(),
	}
	s.BreakerState = s.Breaker.State.String()
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

func (c *QueryCache) noteFailure(msg, key string, err error) {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		c.bypassed.Add(1)
		c.logger.Debug("cache bypassed", "key", key)
		return
	}
	c.logger.Warn(msg, "key", key, "error", err)
}
