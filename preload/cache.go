// Package preload implements process wide cache of chapter payloads. Duplicate
// concurrent requests for the same chapter are coalesced into single fetch.
package preload

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"lectern/config"
	"lectern/fetch"
)

// Service is what engine components need from the cache.
type Service interface {
	IsCached(id string) bool
	IsPending(id string) bool
	Request(ctx context.Context, id, uri string) ([]byte, error)
	// Warm starts request in background, never blocks.
	Warm(id, uri string)
}

// Cache is bounded by number of chapters, least recently used payloads are
// evicted first.
type Cache struct {
	fetcher fetch.Fetcher
	timeout time.Duration
	log     *zap.Logger

	group singleflight.Group

	mu      sync.Mutex
	pending map[string]struct{}
	ready   *lru.Cache[string, []byte]
}

// New creates empty cache.
func New(fetcher fetch.Fetcher, cfg *config.CacheConfig, log *zap.Logger) (*Cache, error) {
	c := &Cache{
		fetcher: fetcher,
		timeout: cfg.FetchTimeout,
		log:     log.Named("preload"),
		pending: make(map[string]struct{}),
	}
	ready, err := lru.NewWithEvict(cfg.Size, func(id string, _ []byte) {
		c.log.Debug("Evicted", zap.String("chapter", id))
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create cache: %w", err)
	}
	c.ready = ready
	return c, nil
}

// IsCached reports whether payload for chapter is available. Does not update recency.
func (c *Cache) IsCached(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready.Contains(id)
}

// IsPending reports whether fetch for chapter is in flight.
func (c *Cache) IsPending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// Request returns payload for chapter, joining fetch already in flight if any.
// When ctx is done before fetch completes Request returns ctx error, fetch
// itself continues and its result still lands in the cache.
func (c *Cache) Request(ctx context.Context, id, uri string) ([]byte, error) {
	c.mu.Lock()
	if data, ok := c.ready.Get(id); ok {
		c.mu.Unlock()
		return data, nil
	}
	c.pending[id] = struct{}{}
	c.mu.Unlock()

	ch := c.group.DoChan(id, func() (any, error) {
		return c.fetch(id, uri)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Warm requests chapter in background. Safe to call repeatedly.
func (c *Cache) Warm(id, uri string) {
	if len(id) == 0 || len(uri) == 0 || c.IsCached(id) || c.IsPending(id) {
		return
	}
	go func() {
		if _, err := c.Request(context.Background(), id, uri); err != nil {
			c.log.Debug("Preload failed", zap.String("chapter", id), zap.Error(err))
		}
	}()
}

// fetch runs at most once per chapter at any given time.
func (c *Cache) fetch(id, uri string) ([]byte, error) {
	c.mu.Lock()
	if data, ok := c.ready.Get(id); ok {
		// previous flight finished while this one was being started
		c.settle(id)
		c.mu.Unlock()
		return data, nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	data, err := c.fetcher.Fetch(ctx, uri)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.settle(id)
	if err != nil {
		c.log.Warn("Fetch failed", zap.String("chapter", id), zap.String("uri", uri), zap.Error(err))
		return nil, err
	}
	c.ready.Add(id, data)
	c.log.Debug("Cached", zap.String("chapter", id), zap.Int("size", len(data)), zap.Duration("elapsed", time.Since(start)))
	return data, nil
}

// settle must be called under lock. Requests arriving after this point start
// new flight instead of joining finished one.
func (c *Cache) settle(id string) {
	c.group.Forget(id)
	delete(c.pending, id)
}
