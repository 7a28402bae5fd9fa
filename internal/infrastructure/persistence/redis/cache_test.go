package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patudom/cds-app/internal/application/roster"
	"github.com/patudom/cds-app/pkg/docdiff"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "roster:335", RosterKey(335))
	assert.Equal(t, "lock:roster:335", LockKey(RosterKey(335)))
	assert.Equal(t, "localhost:6379", DefaultConfig().Addr())
}

func TestCache_ArgumentChecks(t *testing.T) {
	// No command reaches the server for rejected arguments.
	c := NewCacheFromClient(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"}))
	defer c.Close()
	ctx := context.Background()

	assert.ErrorIs(t, c.Set(ctx, "", 1, time.Minute), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Set(ctx, "k", nil, time.Minute), ErrCacheNilValue)
	assert.ErrorIs(t, c.Set(ctx, "k", 1, -time.Second), ErrCacheInvalidTTL)
	assert.ErrorIs(t, c.Get(ctx, "", new(int)), ErrCacheKeyEmpty)
	assert.NoError(t, c.Delete(ctx))

	_, err := c.TryLock(ctx, "r", "me", 0)
	assert.ErrorIs(t, err, ErrCacheInvalidTTL)
}

// TestRosterCache needs a disposable server in CDS_TEST_REDIS_ADDR.
func TestRosterCache(t *testing.T) {
	addr := os.Getenv("CDS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CDS_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	require.NoError(t, client.FlushDB(ctx).Err())

	rc := NewRosterCache(NewCacheFromClient(client), time.Minute)
	defer rc.cache.Close()

	miss, err := rc.Get(ctx, 400)
	require.NoError(t, err)
	assert.Nil(t, miss)

	r := &roster.Roster{
		ClassID: 400,
		Version: roster.VersionMonorepo,
		Entries: []docdiff.Document{{"student_id": float64(5)}},
	}
	require.NoError(t, rc.Set(ctx, r))

	got, err := rc.Get(ctx, 400)
	require.NoError(t, err)
	assert.Equal(t, roster.VersionMonorepo, got.Version)
	assert.Equal(t, r.Entries, got.Entries)

	ok, err := rc.TryLockClass(ctx, 400, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = rc.TryLockClass(ctx, 400, "b")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, rc.UnlockClass(ctx, 400, "a"))

	require.NoError(t, rc.Invalidate(ctx, 400))
	miss, err = rc.Get(ctx, 400)
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, rc.Set(ctx, r))
	require.NoError(t, rc.InvalidateAll(ctx))
	miss, err = rc.Get(ctx, 400)
	require.NoError(t, err)
	assert.Nil(t, miss)
}
