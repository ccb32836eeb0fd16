package drive

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mizuage/embyproxy/common"
)

// expiryMargin keeps a resolved link out of the cache once it is close to
// its server-side expiry, so a cached hit is always fetchable.
const expiryMargin = 30 * time.Second

// LinkCache stores resolved links under their pickcode.
type LinkCache interface {
	Get(ctx context.Context, pickcode string) (*DirectLink, bool)
	Set(ctx context.Context, pickcode string, link *DirectLink, ttl time.Duration)
	Delete(ctx context.Context, pickcode string)
	Sweep(ctx context.Context) int
}

type memoryCache struct {
	cache *common.TTLCache[*DirectLink]
}

// NewMemoryCache is the in-process fallback used when no redis is
// configured: bounded LRU, lazy expiry, periodic sweep.
func NewMemoryCache(capacity int) LinkCache {
	return &memoryCache{cache: common.NewTTLCache[*DirectLink](capacity)}
}

func (m *memoryCache) Get(_ context.Context, pickcode string) (*DirectLink, bool) {
	return m.cache.Get(pickcode)
}

func (m *memoryCache) Set(_ context.Context, pickcode string, link *DirectLink, ttl time.Duration) {
	m.cache.Set(pickcode, link, ttl)
}

func (m *memoryCache) Delete(_ context.Context, pickcode string) {
	m.cache.Delete(pickcode)
}

func (m *memoryCache) Sweep(_ context.Context) int {
	return m.cache.Sweep()
}

const redisKeyPrefix = "embyproxy:link:"

type redisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) LinkCache {
	return &redisCache{client: client}
}

func (r *redisCache) Get(ctx context.Context, pickcode string) (*DirectLink, bool) {
	b, err := r.client.Get(ctx, redisKeyPrefix+pickcode).Bytes()
	if err != nil {
		return nil, false
	}
	var link DirectLink
	if err := json.Unmarshal(b, &link); err != nil {
		return nil, false
	}
	return &link, true
}

func (r *redisCache) Set(ctx context.Context, pickcode string, link *DirectLink, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	b, err := json.Marshal(link)
	if err != nil {
		return
	}
	r.client.Set(ctx, redisKeyPrefix+pickcode, b, ttl)
}

func (r *redisCache) Delete(ctx context.Context, pickcode string) {
	r.client.Del(ctx, redisKeyPrefix+pickcode)
}

// Sweep is a no-op for redis; key TTLs expire server-side.
func (r *redisCache) Sweep(context.Context) int {
	return 0
}

// CachedResolver caches successful resolutions for min(configured TTL,
// remaining link validity minus margin). A cached link past its validity
// window is never returned; the next call resolves fresh.
type CachedResolver struct {
	inner  Resolver
	cache  LinkCache
	maxTTL time.Duration
	logger zerolog.Logger
}

func NewCachedResolver(inner Resolver, cache LinkCache, maxTTL time.Duration, logger zerolog.Logger) *CachedResolver {
	return &CachedResolver{
		inner:  inner,
		cache:  cache,
		maxTTL: maxTTL,
		logger: logger.With().Str("component", "link-cache").Logger(),
	}
}

func (r *CachedResolver) Resolve(ctx context.Context, pickcode, cookie string) (*DirectLink, error) {
	if link, ok := r.cache.Get(ctx, pickcode); ok {
		if link.ValidFor(expiryMargin) {
			r.logger.Debug().Str("pickcode", pickcode).Msg("link cache hit")
			return link, nil
		}
		r.cache.Delete(ctx, pickcode)
	}

	link, err := r.inner.Resolve(ctx, pickcode, cookie)
	if err != nil {
		return nil, err
	}

	ttl := time.Until(link.ExpiresAt) - expiryMargin
	if ttl > r.maxTTL {
		ttl = r.maxTTL
	}
	if ttl > 0 {
		r.cache.Set(ctx, pickcode, link, ttl)
	}
	return link, nil
}

// Sweep expires stale cache entries; wired to a cron job.
func (r *CachedResolver) Sweep(ctx context.Context) {
	if n := r.cache.Sweep(ctx); n > 0 {
		r.logger.Debug().Int("removed", n).Msg("link cache sweep")
	}
}
