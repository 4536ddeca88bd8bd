package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"

	"example.com/gamification/internal/domain"
	"example.com/gamification/internal/telemetry/tracing"
)

const (
	megabyte      = 1024 * 1024
	cacheSize     = 4 * megabyte
	allEntriesKey = "achievements::all"
)

// Cache serves the catalog from memory, falling back to source after ttl.
type Cache struct {
	source domain.AchievementCatalog
	cache  *freecache.Cache
	ttl    time.Duration
}

// NewCache wraps source. A non-positive ttl disables expiry.
func NewCache(source domain.AchievementCatalog, ttl time.Duration) *Cache {
	return &Cache{
		source: source,
		cache:  freecache.NewCache(cacheSize),
		ttl:    ttl,
	}
}

// ListAchievements implements domain.AchievementCatalog.
func (c *Cache) ListAchievements(ctx context.Context) (entries []domain.Achievement, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "catalogCache.listAchievements")
	defer func() { tracing.EndSpan(span, err) }()

	if cached, getErr := c.cache.Get([]byte(allEntriesKey)); getErr == nil {
		if jsonErr := json.Unmarshal(cached, &entries); jsonErr == nil {
			return entries, nil
		}
		log.Warnf("catalog cache: dropping undecodable entry")
		c.cache.Del([]byte(allEntriesKey))
	} else if !errors.Is(getErr, freecache.ErrNotFound) {
		log.Errorf("catalog cache get: %s", getErr)
	}

	entries, err = c.source.ListAchievements(ctx)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	expire := 0
	if c.ttl > 0 {
		expire = max(int(c.ttl.Seconds()), 1)
	}
	if setErr := c.cache.Set([]byte(allEntriesKey), encoded, expire); setErr != nil {
		log.Errorf("catalog cache set: %s", setErr)
	}
	return entries, nil
}

// Invalidate drops cached entries so the next read hits the source.
func (c *Cache) Invalidate() {
	c.cache.Del([]byte(allEntriesKey))
}
