package app

import (
	"context"
	"strings"
	"time"

	"cartable/internal/metrics"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Category groups queries that share a staleness policy.
type Category string

const (
	// CategoryFinancial covers balances, orders and transactions: always fresh.
	CategoryFinancial Category = "financial"
	// CategoryProfile covers identity data that rarely changes.
	CategoryProfile Category = "profile"
)

type queryEntry struct {
	value     any
	fetchedAt time.Time
}

// QueryCache fronts backend calls: it refuses to fetch without a token,
// serves a category's results until they go stale, and collapses identical
// in-flight fetches. Errors are never cached.
type QueryCache struct {
	stale   map[Category]time.Duration
	entries *expirable.LRU[string, queryEntry]
	group   singleflight.Group
	hash    func(string) string
	now     func() time.Time
}

// NewQueryCache creates a cache holding at most size results. hash turns a
// bearer token into the key fragment stored in memory.
func NewQueryCache(size int, stale map[Category]time.Duration, hash func(string) string) *QueryCache {
	maxStale := time.Second
	for _, d := range stale {
		if d > maxStale {
			maxStale = d
		}
	}
	return &QueryCache{
		stale:   stale,
		entries: expirable.NewLRU[string, queryEntry](size, nil, maxStale),
		hash:    hash,
		now:     time.Now,
	}
}

// Forget drops every cached result fetched with token.
func (c *QueryCache) Forget(token string) {
	if token == "" {
		return
	}
	marker := "|" + c.hash(token) + "|"
	for _, k := range c.entries.Keys() {
		if strings.Contains(k, marker) {
			c.entries.Remove(k)
		}
	}
}

// Query runs fetch under the policy of cat. key identifies the operation and
// its parameters; the token is added to it.
func Query[T any](ctx context.Context, c *QueryCache, cat Category, token, key string, fetch func(ctx context.Context, token string) (T, error)) (T, error) {
	var zero T
	if token == "" {
		return zero, ErrUnauthorized
	}

	cacheKey := string(cat) + "|" + c.hash(token) + "|" + key
	stale := c.stale[cat]
	if stale > 0 {
		if e, ok := c.entries.Get(cacheKey); ok && c.now().Sub(e.fetchedAt) < stale {
			metrics.ObserveQuery(string(cat), "hit")
			return e.value.(T), nil
		}
	}

	// The shared fetch outlives any one caller; each caller still stops
	// waiting when its own context ends.
	ch := c.group.DoChan(cacheKey, func() (any, error) {
		v, err := fetch(context.WithoutCancel(ctx), token)
		if err != nil {
			return nil, err
		}
		if stale > 0 {
			c.entries.Add(cacheKey, queryEntry{value: v, fetchedAt: c.now()})
		}
		return v, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res = <-ch:
	}

	result := "miss"
	if res.Shared {
		result = "shared"
	}
	metrics.ObserveQuery(string(cat), result)

	if res.Err != nil {
		return zero, res.Err
	}
	return res.Val.(T), nil
}
