package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRepo struct {
	Repository
}

func (failingRepo) ListAssignments(context.Context, int64) ([]UserRoleAssignment, error) {
	return nil, errors.New("connection reset")
}

func newEnforcerFixture(t *testing.T) (*Enforcer, *resolverFixture, *MemoryCache) {
	t.Helper()
	f := newResolverFixture(t)
	cache := NewMemoryCache(0)
	return NewEnforcer(f.resolver, cache, testLogger()), f, cache
}

func TestCheckUsesCache(t *testing.T) {
	enforcer, f, _ := newEnforcerFixture(t)
	ctx := context.Background()
	f.assign(t, 7, f.baseID, nil)
	principal := Principal{UserID: 7, Tier: TierEnterprise}

	decision, err := enforcer.Check(ctx, principal, "client.view", nil)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.False(t, decision.CacheHit)

	decision, err = enforcer.Check(ctx, principal, "client.view", nil)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.True(t, decision.CacheHit)
}

func TestCheckDeniesMissingPermission(t *testing.T) {
	enforcer, f, _ := newEnforcerFixture(t)
	f.assign(t, 7, f.baseID, nil)

	decision, err := enforcer.Check(context.Background(), Principal{UserID: 7, Tier: TierEnterprise}, "client.export", nil)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "not in effective permission set", decision.Reason)
}

func TestCheckInvalidationDropsCachedSet(t *testing.T) {
	enforcer, f, cache := newEnforcerFixture(t)
	ctx := context.Background()
	f.assign(t, 7, f.baseID, nil)
	principal := Principal{UserID: 7, Tier: TierEnterprise}

	allowed, err := enforcer.HasPermission(ctx, principal, "client.view", nil)
	require.NoError(t, err)
	require.True(t, allowed)

	f.override(t, 7, "client.view", OverrideRevoke, nil)
	cache.InvalidateUser(ctx, 7)

	allowed, err = enforcer.HasPermission(ctx, principal, "client.view", nil)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCheckResourceOverrideSkipsCache(t *testing.T) {
	enforcer, f, _ := newEnforcerFixture(t)
	ctx := context.Background()
	f.assign(t, 7, f.baseID, nil)
	principal := Principal{UserID: 7, Tier: TierEnterprise}

	// Warm the cache with the general set.
	allowed, err := enforcer.HasPermission(ctx, principal, "client.view", nil)
	require.NoError(t, err)
	require.True(t, allowed)

	// A fresh resource revoke applies immediately, despite the warm cache.
	typ, id := "client", "42"
	_, err = f.repo.UpsertOverride(ctx, UserPermissionOverride{
		UserID: 7, PermissionID: f.permIDs["client.view"],
		ResourceType: &typ, ResourceID: &id,
		Action: OverrideRevoke, CreatedBy: 1,
	})
	require.NoError(t, err)

	decision, err := enforcer.Check(ctx, principal, "client.view", &ResourceRef{Type: "client", ID: "42"})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "resource override revoke", decision.Reason)

	// The same check against another resource falls back to the general set.
	decision, err = enforcer.Check(ctx, principal, "client.view", &ResourceRef{Type: "client", ID: "43"})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCheckPlatformAdmin(t *testing.T) {
	enforcer, _, _ := newEnforcerFixture(t)

	decision, err := enforcer.Check(context.Background(), Principal{UserID: 1, IsPlatformAdmin: true}, "anything.at.all", nil)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, "platform administrator", decision.Reason)
}

func TestCheckFailsClosed(t *testing.T) {
	repo := NewMemoryRepository()
	resolver := NewResolver(failingRepo{Repository: repo})
	enforcer := NewEnforcer(resolver, nil, testLogger())

	allowed, err := enforcer.HasPermission(context.Background(), Principal{UserID: 7}, "client.view", nil)
	require.Error(t, err)
	assert.False(t, allowed, "errors must read as deny")
}
