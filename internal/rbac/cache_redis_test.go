package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVersionedCacheFixture(t *testing.T) (*VersionedCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewVersionedCache(client, time.Minute, testLogger()), srv
}

func TestVersionedCacheRoundTrip(t *testing.T) {
	cache, _ := newVersionedCacheFixture(t)
	ctx := context.Background()
	firmID := int64(10)
	principal := Principal{UserID: 7, FirmID: &firmID, Tier: TierProfessional}

	_, ok := cache.GetUser(ctx, principal)
	require.False(t, ok, "cold cache must miss")

	cache.SetUser(ctx, principal, NewPermissionSet("client.view", "return.view"))

	set, ok := cache.GetUser(ctx, principal)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"client.view", "return.view"}, set.Codes())
}

func TestVersionedCacheUserInvalidation(t *testing.T) {
	cache, _ := newVersionedCacheFixture(t)
	ctx := context.Background()
	principal := Principal{UserID: 7}

	cache.SetUser(ctx, principal, NewPermissionSet("client.view"))
	cache.InvalidateUser(ctx, 7)

	_, ok := cache.GetUser(ctx, principal)
	assert.False(t, ok)
}

func TestVersionedCacheFirmInvalidation(t *testing.T) {
	cache, _ := newVersionedCacheFixture(t)
	ctx := context.Background()
	firmID := int64(10)
	inFirm := Principal{UserID: 7, FirmID: &firmID}
	outside := Principal{UserID: 8}

	cache.SetUser(ctx, inFirm, NewPermissionSet("client.view"))
	cache.SetUser(ctx, outside, NewPermissionSet("client.view"))

	// The firm bump leaves the entry bytes in place but fails its version
	// check on the next read.
	cache.InvalidateFirm(ctx, firmID)

	_, ok := cache.GetUser(ctx, inFirm)
	assert.False(t, ok, "firm member entry must be stale")

	_, ok = cache.GetUser(ctx, outside)
	assert.True(t, ok, "entry outside the firm is unaffected")
}

func TestVersionedCacheGlobalInvalidation(t *testing.T) {
	cache, _ := newVersionedCacheFixture(t)
	ctx := context.Background()
	firmID := int64(10)
	a := Principal{UserID: 7, FirmID: &firmID}
	b := Principal{UserID: 8}

	cache.SetUser(ctx, a, NewPermissionSet("client.view"))
	cache.SetUser(ctx, b, NewPermissionSet("client.view"))

	cache.InvalidateAll(ctx)

	_, ok := cache.GetUser(ctx, a)
	assert.False(t, ok)
	_, ok = cache.GetUser(ctx, b)
	assert.False(t, ok)
}

func TestVersionedCacheStampDetectsMidResolveInvalidation(t *testing.T) {
	cache, _ := newVersionedCacheFixture(t)
	ctx := context.Background()
	principal := Principal{UserID: 7}

	stamp, ok := cache.Stamp(ctx, principal)
	require.True(t, ok)

	// An invalidation lands while the resolve is still running.
	cache.InvalidateUser(ctx, 7)

	cache.SetUserAt(ctx, principal, NewPermissionSet("client.view"), stamp)

	_, hit := cache.GetUser(ctx, principal)
	assert.False(t, hit, "entry stamped before the bump must read as stale")
}

func TestVersionedCacheTTL(t *testing.T) {
	cache, srv := newVersionedCacheFixture(t)
	ctx := context.Background()
	principal := Principal{UserID: 7}

	cache.SetUser(ctx, principal, NewPermissionSet("client.view"))
	srv.FastForward(2 * time.Minute)

	_, ok := cache.GetUser(ctx, principal)
	assert.False(t, ok, "entry must expire with its redis TTL")
}

func TestVersionedCacheFailsClosedOnRedisLoss(t *testing.T) {
	cache, srv := newVersionedCacheFixture(t)
	ctx := context.Background()
	principal := Principal{UserID: 7}

	cache.SetUser(ctx, principal, NewPermissionSet("client.view"))
	srv.Close()

	_, ok := cache.GetUser(ctx, principal)
	assert.False(t, ok, "redis loss must read as a miss, never a stale hit")
}
