package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resolverFixture builds a repo with two roles:
//
//	role "base":   client.view, return.view
//	role "senior": return.review (professional+), client.export (professional+)
//
// and a disabled permission attached to "base".
type resolverFixture struct {
	repo     *MemoryRepository
	resolver *Resolver
	baseID   int64
	seniorID int64
	permIDs  map[string]int64
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()
	repo := NewMemoryRepository()
	ctx := context.Background()

	f := &resolverFixture{repo: repo, resolver: NewResolver(repo), permIDs: map[string]int64{}}

	add := func(code string, restriction []Tier, enabled bool) {
		id, err := repo.UpsertPermission(ctx, Permission{
			Code: code, Name: code, Category: CategoryClient,
			MinHierarchyLevel: HierarchyUser,
			TierRestriction:   restriction,
			IsEnabled:         enabled, IsSystem: true,
		})
		require.NoError(t, err)
		f.permIDs[code] = id
	}
	add("client.view", nil, true)
	add("return.view", nil, true)
	add("return.review", []Tier{TierProfessional, TierEnterprise}, true)
	add("client.export", []Tier{TierProfessional, TierEnterprise}, true)
	add("client.legacy", nil, false)

	var err error
	f.baseID, err = repo.CreateRole(ctx, RoleTemplate{Code: "base", Name: "Base", HierarchyLevel: HierarchyUser, IsActive: true})
	require.NoError(t, err)
	require.NoError(t, repo.ReplaceRolePermissions(ctx, f.baseID,
		[]int64{f.permIDs["client.view"], f.permIDs["return.view"], f.permIDs["client.legacy"]}))

	f.seniorID, err = repo.CreateRole(ctx, RoleTemplate{Code: "senior", Name: "Senior", HierarchyLevel: HierarchyUser, IsActive: true})
	require.NoError(t, err)
	require.NoError(t, repo.ReplaceRolePermissions(ctx, f.seniorID,
		[]int64{f.permIDs["return.review"], f.permIDs["client.export"]}))

	return f
}

func (f *resolverFixture) assign(t *testing.T, userID, roleID int64, expiresAt *time.Time) {
	t.Helper()
	_, err := f.repo.UpsertAssignment(context.Background(), UserRoleAssignment{
		UserID: userID, RoleID: roleID, AssignedBy: 1, ExpiresAt: expiresAt,
	})
	require.NoError(t, err)
}

func (f *resolverFixture) override(t *testing.T, userID int64, code string, action OverrideAction, expiresAt *time.Time) {
	t.Helper()
	_, err := f.repo.UpsertOverride(context.Background(), UserPermissionOverride{
		UserID: userID, PermissionID: f.permIDs[code], Action: action, ExpiresAt: expiresAt, CreatedBy: 1,
	})
	require.NoError(t, err)
}

func TestResolveUnionsRoles(t *testing.T) {
	f := newResolverFixture(t)
	f.assign(t, 7, f.baseID, nil)
	f.assign(t, 7, f.seniorID, nil)

	set, err := f.resolver.Resolve(context.Background(), Principal{UserID: 7, Tier: TierProfessional})
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"client.view", "return.view", "return.review", "client.export"},
		set.Codes())
}

func TestResolveDropsDisabledPermissions(t *testing.T) {
	f := newResolverFixture(t)
	f.assign(t, 7, f.baseID, nil)

	set, err := f.resolver.Resolve(context.Background(), Principal{UserID: 7, Tier: TierEnterprise})
	require.NoError(t, err)
	assert.False(t, set.Has("client.legacy"))
}

func TestResolveAppliesTierGate(t *testing.T) {
	f := newResolverFixture(t)
	f.assign(t, 7, f.baseID, nil)
	f.assign(t, 7, f.seniorID, nil)

	// A starter-tier principal loses the professional-gated grants even
	// though the role rows still carry them.
	set, err := f.resolver.Resolve(context.Background(), Principal{UserID: 7, Tier: TierStarter})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"client.view", "return.view"}, set.Codes())
}

func TestResolveGrantOverrideBypassesTierGate(t *testing.T) {
	f := newResolverFixture(t)
	f.assign(t, 7, f.baseID, nil)
	f.override(t, 7, "client.export", OverrideGrant, nil)

	set, err := f.resolver.Resolve(context.Background(), Principal{UserID: 7, Tier: TierStarter})
	require.NoError(t, err)
	assert.True(t, set.Has("client.export"), "explicit grant wins over tier gating")
}

func TestResolveRevokeOverrideWins(t *testing.T) {
	f := newResolverFixture(t)
	f.assign(t, 7, f.baseID, nil)
	f.override(t, 7, "client.view", OverrideRevoke, nil)

	set, err := f.resolver.Resolve(context.Background(), Principal{UserID: 7, Tier: TierEnterprise})
	require.NoError(t, err)
	assert.False(t, set.Has("client.view"))
	assert.True(t, set.Has("return.view"))
}

func TestResolveIgnoresExpired(t *testing.T) {
	f := newResolverFixture(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f.resolver.SetClock(func() time.Time { return now })

	past := now.Add(-time.Minute)
	f.assign(t, 7, f.baseID, nil)
	f.assign(t, 7, f.seniorID, &past)
	f.override(t, 7, "client.view", OverrideRevoke, &past)

	set, err := f.resolver.Resolve(context.Background(), Principal{UserID: 7, Tier: TierEnterprise})
	require.NoError(t, err)
	assert.True(t, set.Has("client.view"), "expired revoke must not apply")
	assert.False(t, set.Has("return.review"), "expired assignment must not contribute")
}

func TestResolveExcludesResourceScopedOverrides(t *testing.T) {
	f := newResolverFixture(t)
	f.assign(t, 7, f.baseID, nil)

	typ, id := "client", "42"
	_, err := f.repo.UpsertOverride(context.Background(), UserPermissionOverride{
		UserID: 7, PermissionID: f.permIDs["client.view"],
		ResourceType: &typ, ResourceID: &id,
		Action: OverrideRevoke, CreatedBy: 1,
	})
	require.NoError(t, err)

	set, err := f.resolver.Resolve(context.Background(), Principal{UserID: 7, Tier: TierEnterprise})
	require.NoError(t, err)
	assert.True(t, set.Has("client.view"), "resource-scoped revoke must not touch the general set")
}

func TestResolveResource(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()
	principal := Principal{UserID: 7, Tier: TierEnterprise}
	res := ResourceRef{Type: "client", ID: "42"}

	// No override: undecided, caller falls back to the general set.
	allowed, decided, err := f.resolver.ResolveResource(ctx, principal, "client.view", res)
	require.NoError(t, err)
	assert.False(t, decided)
	assert.False(t, allowed)

	typ, id := "client", "42"
	_, err = f.repo.UpsertOverride(ctx, UserPermissionOverride{
		UserID: 7, PermissionID: f.permIDs["client.view"],
		ResourceType: &typ, ResourceID: &id,
		Action: OverrideRevoke, CreatedBy: 1,
	})
	require.NoError(t, err)

	allowed, decided, err = f.resolver.ResolveResource(ctx, principal, "client.view", res)
	require.NoError(t, err)
	assert.True(t, decided)
	assert.False(t, allowed)

	// A different resource id is untouched.
	_, decided, err = f.resolver.ResolveResource(ctx, principal, "client.view", ResourceRef{Type: "client", ID: "43"})
	require.NoError(t, err)
	assert.False(t, decided)
}

func TestResolvePlatformAdmin(t *testing.T) {
	f := newResolverFixture(t)

	// No assignments at all; the flag alone grants every enabled permission.
	set, err := f.resolver.Resolve(context.Background(), Principal{UserID: 99, IsPlatformAdmin: true})
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"client.view", "return.view", "return.review", "client.export"},
		set.Codes())
	assert.False(t, set.Has("client.legacy"), "disabled permissions excluded even for platform admins")
}

func TestResolveNoAssignments(t *testing.T) {
	f := newResolverFixture(t)
	set, err := f.resolver.Resolve(context.Background(), Principal{UserID: 12, Tier: TierEnterprise})
	require.NoError(t, err)
	assert.Empty(t, set.Codes())
}
