package directory

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/repogate/pkg/observability"
)

// CacheConfig sizes the cache tiers
type CacheConfig struct {
	Size  int
	TTL   time.Duration
	Redis *redis.Client
}

// CachedDirectory fronts a Directory with an in-process LRU and an
// optional Redis tier. Only successful lookups are cached so a new grant
// is visible on the next request; revocations wait out the TTL or an
// explicit Invalidate. Cache failures fall through to the store.
type CachedDirectory struct {
	store   Directory
	logger  *observability.Logger
	metrics *observability.Metrics

	principals *lru.LRU[string, []Principal]
	sites      *lru.LRU[string, *Site]
	redis      *redisTier
}

// NewCachedDirectory wraps store
func NewCachedDirectory(store Directory, cfg CacheConfig, logger *observability.Logger, metrics *observability.Metrics) *CachedDirectory {
	if cfg.Size <= 0 {
		cfg.Size = 1000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	c := &CachedDirectory{
		store:      store,
		logger:     logger,
		metrics:    metrics,
		principals: lru.NewLRU[string, []Principal](cfg.Size, nil, cfg.TTL),
		sites:      lru.NewLRU[string, *Site](cfg.Size, nil, cfg.TTL),
	}
	if cfg.Redis != nil {
		c.redis = &redisTier{client: cfg.Redis, ttl: cfg.TTL}
	}
	return c
}

// FindPrincipalsByEmail implements Directory
func (c *CachedDirectory) FindPrincipalsByEmail(ctx context.Context, email string) ([]Principal, error) {
	email = NormalizeEmail(email)
	key := principalsKey(email)

	if ps, ok := c.principals.Get(key); ok {
		c.metrics.RecordDirectoryLookup("l1", "hit")
		return clonePrincipals(ps), nil
	}

	if c.redis != nil {
		var ps []Principal
		found, err := c.redis.get(ctx, key, &ps)
		if err != nil {
			c.logger.WithError(err).Warn("Redis directory lookup failed")
		}
		if found && len(ps) > 0 {
			c.metrics.RecordDirectoryLookup("l2", "hit")
			c.principals.Add(key, ps)
			return clonePrincipals(ps), nil
		}
	}

	ps, err := c.store.FindPrincipalsByEmail(ctx, email)
	if err != nil {
		c.recordStoreResult(err)
		return nil, err
	}
	c.metrics.RecordDirectoryLookup("store", "hit")

	c.principals.Add(key, clonePrincipals(ps))
	c.writeThrough(ctx, key, ps)
	return ps, nil
}

// FindSiteBySlug implements Directory
func (c *CachedDirectory) FindSiteBySlug(ctx context.Context, slug string) (*Site, error) {
	slug = NormalizeSlug(slug)
	return c.findSite(ctx, siteSlugKey(slug), func() (*Site, error) {
		return c.store.FindSiteBySlug(ctx, slug)
	})
}

// FindSiteByID implements Directory
func (c *CachedDirectory) FindSiteByID(ctx context.Context, id string) (*Site, error) {
	return c.findSite(ctx, siteIDKey(id), func() (*Site, error) {
		return c.store.FindSiteByID(ctx, id)
	})
}

func (c *CachedDirectory) findSite(ctx context.Context, key string, load func() (*Site, error)) (*Site, error) {
	if site, ok := c.sites.Get(key); ok {
		c.metrics.RecordDirectoryLookup("l1", "hit")
		return cloneSite(site), nil
	}

	if c.redis != nil {
		var site Site
		found, err := c.redis.get(ctx, key, &site)
		if err != nil {
			c.logger.WithError(err).Warn("Redis directory lookup failed")
		}
		if found {
			c.metrics.RecordDirectoryLookup("l2", "hit")
			c.sites.Add(key, cloneSite(&site))
			return &site, nil
		}
	}

	site, err := load()
	if err != nil {
		c.recordStoreResult(err)
		return nil, err
	}
	c.metrics.RecordDirectoryLookup("store", "hit")

	c.sites.Add(key, cloneSite(site))
	c.writeThrough(ctx, key, site)
	return site, nil
}

// Invalidate drops cached entries for an email and site so the next
// lookup reads the store. Either argument may be empty.
func (c *CachedDirectory) Invalidate(ctx context.Context, email string, site *Site) {
	var keys []string
	if email != "" {
		keys = append(keys, principalsKey(NormalizeEmail(email)))
	}
	if site != nil {
		keys = append(keys, siteSlugKey(NormalizeSlug(site.Slug)), siteIDKey(site.ID))
	}

	for _, k := range keys {
		c.principals.Remove(k)
		c.sites.Remove(k)
	}
	if c.redis != nil && len(keys) > 0 {
		if err := c.redis.del(ctx, keys...); err != nil {
			c.logger.WithError(err).Warn("Redis directory invalidate failed")
		}
	}
}

// Purge empties the in-process tier
func (c *CachedDirectory) Purge() {
	c.principals.Purge()
	c.sites.Purge()
}

func (c *CachedDirectory) writeThrough(ctx context.Context, key string, value interface{}) {
	if c.redis == nil {
		return
	}
	if err := c.redis.set(ctx, key, value); err != nil {
		c.logger.WithError(err).Warn("Redis directory write failed")
	}
}

func (c *CachedDirectory) recordStoreResult(err error) {
	if errors.Is(err, ErrNotFound) {
		c.metrics.RecordDirectoryLookup("store", "miss")
		return
	}
	c.metrics.RecordDirectoryLookup("store", "error")
}
