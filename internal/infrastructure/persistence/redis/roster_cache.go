package redis

import (
	"context"
	"errors"
	"time"

	"github.com/patudom/cds-app/internal/application/roster"
)

// RosterCache implements roster.Cache.
type RosterCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewRosterCache keeps rosters for ttl, TTLRoster when zero.
func NewRosterCache(cache *Cache, ttl time.Duration) *RosterCache {
	if ttl <= 0 {
		ttl = TTLRoster
	}
	return &RosterCache{cache: cache, ttl: ttl}
}

// Get returns nil on a miss.
func (c *RosterCache) Get(ctx context.Context, classID int) (*roster.Roster, error) {
	var r roster.Roster
	err := c.cache.Get(ctx, RosterKey(classID), &r)
	if errors.Is(err, ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *RosterCache) Set(ctx context.Context, r *roster.Roster) error {
	return c.cache.Set(ctx, RosterKey(r.ClassID), r, c.ttl)
}

// Invalidate drops the cached roster of classID.
func (c *RosterCache) Invalidate(ctx context.Context, classID int) error {
	return c.cache.Delete(ctx, RosterKey(classID))
}

// InvalidateAll drops every cached roster.
func (c *RosterCache) InvalidateAll(ctx context.Context) error {
	return c.cache.DeleteByPattern(ctx, PrefixRoster+"*")
}

// TryLockClass takes the refresh lock of classID.
func (c *RosterCache) TryLockClass(ctx context.Context, classID int, owner string) (bool, error) {
	return c.cache.TryLock(ctx, RosterKey(classID), owner, TTLLock)
}

// UnlockClass releases the refresh lock of classID.
func (c *RosterCache) UnlockClass(ctx context.Context, classID int, owner string) error {
	return c.cache.Unlock(ctx, RosterKey(classID), owner)
}
