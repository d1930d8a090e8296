package rag

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anatolykoptev/go_videochat/internal/engine"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// BuildFunc builds the index of one video.
type BuildFunc func(ctx context.Context, videoID string) (*Index, error)

// IndexCache keeps built indexes per video id.
//
// At most one build per video runs at a time; concurrent callers for the same
// video wait for it and share the result. Entries expire after the TTL or are
// evicted oldest-first when the cache is full. An evicted index is closed once
// the last caller holding it releases it.
type IndexCache struct {
	build        BuildFunc
	items        *cache.Cache // nil = caching disabled
	group        singleflight.Group
	maxEntries   int
	buildTimeout time.Duration
	builds       atomic.Int64
	storeMu      sync.Mutex
}

// cacheEntry reference-counts an index so eviction never closes it under a reader.
type cacheEntry struct {
	idx     *Index
	mu      sync.Mutex
	refs    int
	evicted bool
}

func (e *cacheEntry) acquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return false
	}
	e.refs++
	return true
}

func (e *cacheEntry) release() {
	e.mu.Lock()
	e.refs--
	closeNow := e.evicted && e.refs == 0
	e.mu.Unlock()
	if closeNow {
		e.idx.Close()
	}
}

func (e *cacheEntry) evict() {
	e.mu.Lock()
	if e.evicted {
		e.mu.Unlock()
		return
	}
	e.evicted = true
	closeNow := e.refs == 0
	e.mu.Unlock()
	if closeNow {
		e.idx.Close()
	}
}

// NewIndexCache returns a cache around build. ttl <= 0 disables caching: every
// Acquire builds a private index that its release closes. maxEntries <= 0 means
// unbounded. buildTimeout bounds one build; 0 means no extra deadline.
func NewIndexCache(build BuildFunc, ttl time.Duration, maxEntries int, buildTimeout time.Duration) *IndexCache {
	ic := &IndexCache{build: build, maxEntries: maxEntries, buildTimeout: buildTimeout}
	if ttl > 0 {
		ic.items = cache.New(ttl, min(ttl, time.Minute))
		ic.items.OnEvicted(func(videoID string, v any) {
			if e, ok := v.(*cacheEntry); ok {
				e.evict()
				engine.IncrIndexEvictions()
				slog.Debug("index cache: evicted", slog.String("id", videoID))
			}
		})
	}
	return ic
}

// Acquire returns the index for videoID, building it if needed, and a release
// func the caller must call when done with the index.
func (ic *IndexCache) Acquire(ctx context.Context, videoID string) (*Index, func(), error) {
	if ic.items == nil {
		idx, err := ic.buildDetached(ctx, videoID)
		if err != nil {
			return nil, nil, err
		}
		return idx, idx.Close, nil
	}

	for range 3 {
		if e, ok := ic.lookup(videoID); ok && e.acquire() {
			return e.idx, sync.OnceFunc(e.release), nil
		}

		ch := ic.group.DoChan(videoID, func() (any, error) {
			if e, ok := ic.lookup(videoID); ok {
				return e, nil
			}
			idx, err := ic.buildDetached(ctx, videoID)
			if err != nil {
				return nil, err
			}
			e := &cacheEntry{idx: idx}
			ic.store(videoID, e)
			return e, nil
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
		if res.Err != nil {
			return nil, nil, res.Err
		}
		if e := res.Val.(*cacheEntry); e.acquire() {
			return e.idx, sync.OnceFunc(e.release), nil
		}
		// Evicted between build and acquire; only happens with a tiny cache.
	}
	return nil, nil, errors.New("index cache: entry evicted before use")
}

// buildDetached runs a build that survives the cancellation of the caller that
// started it, since other callers may be waiting on the same build.
func (ic *IndexCache) buildDetached(ctx context.Context, videoID string) (*Index, error) {
	bctx := context.WithoutCancel(ctx)
	if ic.buildTimeout > 0 {
		var cancel context.CancelFunc
		bctx, cancel = context.WithTimeout(bctx, ic.buildTimeout)
		defer cancel()
	}

	ic.builds.Add(1)
	engine.IncrIndexBuilds()
	start := time.Now()

	var idx *Index
	err := engine.TrackOperation(bctx, "index_build", func(ctx context.Context) error {
		var err error
		idx, err = ic.build(ctx, videoID)
		return err
	})
	if err != nil {
		engine.IncrIndexBuildErrors()
		return nil, err
	}
	slog.Info("index cache: built",
		slog.String("id", videoID), slog.Int("chunks", idx.Len()), slog.Duration("elapsed", time.Since(start)))
	return idx, nil
}

func (ic *IndexCache) lookup(videoID string) (*cacheEntry, bool) {
	v, ok := ic.items.Get(videoID)
	if !ok {
		return nil, false
	}
	e, ok := v.(*cacheEntry)
	return e, ok
}

func (ic *IndexCache) store(videoID string, e *cacheEntry) {
	ic.storeMu.Lock()
	defer ic.storeMu.Unlock()

	// An expired entry not yet swept still holds its index; Delete runs OnEvicted.
	ic.items.Delete(videoID)
	ic.evictIfFull()
	ic.items.Set(videoID, e, cache.DefaultExpiration)
}

// evictIfFull removes expired entries, then the oldest ones, until there is
// room for one more.
func (ic *IndexCache) evictIfFull() {
	if ic.maxEntries <= 0 || ic.items.ItemCount() < ic.maxEntries {
		return
	}
	ic.items.DeleteExpired()

	for ic.items.ItemCount() >= ic.maxEntries {
		oldestKey := ""
		var oldestAt int64
		for k, it := range ic.items.Items() {
			// Earlier expiry = older entry (since expiry = createdAt + ttl)
			if oldestKey == "" || it.Expiration < oldestAt {
				oldestKey, oldestAt = k, it.Expiration
			}
		}
		if oldestKey == "" {
			return
		}
		ic.items.Delete(oldestKey)
	}
}

// Builds returns how many builds have started since creation.
func (ic *IndexCache) Builds() int64 { return ic.builds.Load() }

// Len returns the number of cached entries, expired ones included until swept.
func (ic *IndexCache) Len() int {
	if ic.items == nil {
		return 0
	}
	return ic.items.ItemCount()
}

// Close evicts every entry. Indexes still held by callers close on release.
func (ic *IndexCache) Close() {
	if ic.items == nil {
		return
	}
	for k := range ic.items.Items() {
		ic.items.Delete(k)
	}
	ic.items.DeleteExpired()
}
