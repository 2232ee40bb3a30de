package platform

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/perchlabs/perch/pkg/logger"
)

const profileCacheSize = 1024

// ProfileCache is a TTL cache over GetUserInfo. Staleness is acceptable:
// when a refresh fails, the last-known value is served instead of the
// error, so a platform hiccup never degrades the reply path.
type ProfileCache struct {
	fetch func(ctx context.Context, userID string) (Profile, error)
	live  *expirable.LRU[string, Profile]
	stale map[string]Profile
	mu    sync.RWMutex
}

func NewProfileCache(api API, ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ProfileCache{
		fetch: api.GetUserInfo,
		live:  expirable.NewLRU[string, Profile](profileCacheSize, nil, ttl),
		stale: make(map[string]Profile),
	}
}

// Get returns userID's profile, refreshing on miss or expiry. A failed
// refresh falls back to the last cached value if one exists.
func (c *ProfileCache) Get(ctx context.Context, userID string) (Profile, error) {
	if p, ok := c.live.Get(userID); ok {
		return p, nil
	}

	p, err := c.fetch(ctx, userID)
	if err != nil {
		c.mu.RLock()
		last, ok := c.stale[userID]
		c.mu.RUnlock()
		if ok {
			logger.WarnCF("platform", "Profile refresh failed, serving stale value", map[string]any{
				"user_id": userID,
				"error":   err.Error(),
			})
			return last, nil
		}
		return Profile{}, err
	}

	c.live.Add(userID, p)
	c.mu.Lock()
	c.stale[userID] = p
	c.mu.Unlock()
	return p, nil
}

// Invalidate drops userID's live entry; the stale fallback is kept.
func (c *ProfileCache) Invalidate(userID string) {
	c.live.Remove(userID)
}
