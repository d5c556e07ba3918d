package proxy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/barrett370/lazycache"
	"github.com/barrett370/lazycache/lazy"
	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"github.com/jmgilman/go/errors"
	"golang.org/x/sync/errgroup"
	"tailscale.com/util/singleflight"
)

var log = logging.Logger("proxy")

// Service is the expensive video service being proxied.
type Service interface {
	// Fetch returns the compressed payload of a video at a quality.
	Fetch(ctx context.Context, videoID, quality string) ([]byte, error)
}

// Factory builds a Service. It is called on the first cache miss, and again
// only if a previous call failed.
type Factory func() (Service, error)

// Key identifies a cached payload. Keys are equal only when both fields match
// exactly.
type Key struct {
	VideoID string
	Quality string
}

func (k Key) String() string {
	return k.VideoID + "|" + k.Quality
}

// Stats is a snapshot of proxy counters.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Len         int
	Capacity    int
	Initialized bool
}

// Proxy is a Service that constructs the real Service lazily and caches its
// payloads. It is safe for concurrent use.
type Proxy struct {
	service *lazy.Value[Service]
	cache   *cache.Cache[Key, []byte]
	sf      singleflight.Group[Key, []byte]

	warmConcurrency int

	hits   atomic.Uint64
	misses atomic.Uint64
}

var _ Service = (*Proxy)(nil)

// New creates a Proxy around the Service built by factory. The factory is not
// called until the first cache miss.
func New(factory Factory, options ...Option) (*Proxy, error) {
	if factory == nil {
		return nil, errors.New(errors.CodeInvalidInput, "nil service factory")
	}
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}

	var settings []lazy.Setting
	if opts.initTimeout > 0 {
		settings = append(settings, lazy.WithTimeout(opts.initTimeout))
	}

	c := cache.New[Key, []byte](opts.capacity, opts.ttl, opts.cleanupInterval)
	c.SetPolicy(opts.policy)
	c.OnEvicted(func(k Key, _ []byte) {
		log.Debugw("Payload removed from cache", "key", k)
	})

	return &Proxy{
		service:         lazy.New[Service](factory, settings...),
		cache:           c,
		warmConcurrency: opts.warmConcurrency,
	}, nil
}

// Fetch returns the payload for videoID at quality, from the cache if
// present. Otherwise the Service is constructed if needed, the payload is
// fetched from it, and cached as the eviction policy allows.
//
// Errors from the factory or the Service are returned unchanged and are never
// cached.
func (p *Proxy) Fetch(ctx context.Context, videoID, quality string) ([]byte, error) {
	key := Key{VideoID: videoID, Quality: quality}
	if v, ok := p.cache.Get(key); ok {
		hits := p.hits.Add(1)
		log.Debugw("Cache hit", "key", key, "hits", hits, "lookups", hits+p.misses.Load())
		return v, nil
	}

	misses := p.misses.Add(1)
	log.Debugw("Cache miss", "key", key, "misses", misses, "lookups", misses+p.hits.Load())

	// The shared fetch outlives any one caller; each caller stops waiting
	// when its own context is done.
	flightCtx := context.WithoutCancel(ctx)
	ch := p.sf.DoChan(key, func() ([]byte, error) {
		return p.delegate(flightCtx, key)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Proxy) delegate(ctx context.Context, key Key) ([]byte, error) {
	// Stored by a fetch that finished after the caller's lookup.
	if v, ok := p.cache.Peek(key); ok {
		return v, nil
	}

	svc, err := p.service.Get(ctx)
	if err != nil {
		return nil, err
	}

	data, err := svc.Fetch(ctx, key.VideoID, key.Quality)
	if err != nil {
		log.Errorw("Cannot fetch payload", "err", err, "key", key)
		return nil, err
	}

	if err := p.cache.Add(key, data, cache.DefaultExpiration); err != nil {
		// ErrFull or ErrExists; the payload is still returned.
		log.Debugw("Payload not cached", "key", key, "reason", err)
	}
	return data, nil
}

// Warm fetches keys into the cache, running up to the configured number of
// fetches at once. It returns every failure, not just the first.
func (p *Proxy) Warm(ctx context.Context, keys ...Key) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
	)
	// The group only limits concurrency; failures are collected in errs.
	g.SetLimit(p.warmConcurrency)
	for _, key := range keys {
		g.Go(func() error {
			if _, err := p.Fetch(ctx, key.VideoID, key.Quality); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("warm %s: %w", key, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	if errs != nil {
		log.Warnw("Cache warm-up incomplete", "keys", len(keys), "err", errs)
	}
	return errs
}

// HitCount returns the number of fetches served from the cache.
func (p *Proxy) HitCount() uint64 {
	return p.hits.Load()
}

// MissCount returns the number of fetches not served from the cache.
func (p *Proxy) MissCount() uint64 {
	return p.misses.Load()
}

// Len returns the number of cached payloads.
func (p *Proxy) Len() int {
	return p.cache.ItemCount()
}

// Initialized reports whether the Service has been constructed.
func (p *Proxy) Initialized() bool {
	return p.service.Initialized()
}

func (p *Proxy) Stats() Stats {
	return Stats{
		Hits:        p.hits.Load(),
		Misses:      p.misses.Load(),
		Evictions:   p.cache.Evictions(),
		Len:         p.cache.ItemCount(),
		Capacity:    p.cache.Capacity(),
		Initialized: p.service.Initialized(),
	}
}
