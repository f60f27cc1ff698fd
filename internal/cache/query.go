// Package cache keeps results of REST queries for a short time, coalesces
// concurrent fetches of the same key and supports explicit invalidation.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/c-pro/geche"
	"golang.org/x/sync/singleflight"
)

const DefaultTTL = 30 * time.Second

type FetchFunc[V any] func(ctx context.Context) (V, error)

// Query caches one kind of query result by key.
//
// Every key carries an epoch that Invalidate bumps. A fetch only stores
// its result if the epoch it started under is still current, so a
// response that was in flight during an invalidation never repopulates
// the cache.
type Query[V any] struct {
	cache geche.Geche[string, V]
	group singleflight.Group

	mu     sync.Mutex
	base   uint64
	epochs map[string]uint64
}

func NewQuery[V any](ctx context.Context, ttl time.Duration) *Query[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	tick := ttl / 2
	if tick < time.Second {
		tick = time.Second
	}
	return &Query[V]{
		cache:  geche.NewMapTTLCache[string, V](ctx, ttl, tick),
		epochs: make(map[string]uint64),
	}
}

// Get returns the cached value for key, or runs fetch. Concurrent callers
// for the same key and epoch share one fetch. The fetch is detached from
// ctx cancellation: a caller giving up does not abort it for the others.
func (q *Query[V]) Get(ctx context.Context, key string, fetch FetchFunc[V]) (V, error) {
	if v, err := q.cache.Get(key); err == nil {
		return v, nil
	}

	epoch := q.epoch(key)
	fetchCtx := context.WithoutCancel(ctx)
	ch := q.group.DoChan(key+"#"+strconv.FormatUint(epoch, 10), func() (any, error) {
		v, err := fetch(fetchCtx)
		if err != nil {
			return v, err
		}
		q.store(key, epoch, v)
		return v, nil
	})

	var zero V
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (q *Query[V]) Invalidate(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.epochs[key]++
	_ = q.cache.Del(key)
}

func (q *Query[V]) InvalidateAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.base++
	for key := range q.cache.Snapshot() {
		_ = q.cache.Del(key)
	}
}

func (q *Query[V]) epoch(key string) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.base + q.epochs[key]
}

func (q *Query[V]) store(key string, epoch uint64, v V) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.base+q.epochs[key] != epoch {
		return
	}
	q.cache.Set(key, v)
}
