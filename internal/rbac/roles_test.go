package rbac

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubTiers is a fixed firm→tier lookup.
type stubTiers struct {
	tiers map[int64]Tier
}

func (s stubTiers) FirmTier(_ context.Context, firmID int64) (Tier, error) {
	if tier, ok := s.tiers[firmID]; ok {
		return tier, nil
	}
	return TierStarter, nil
}

type roleFixture struct {
	repo  *MemoryRepository
	tiers stubTiers
	roles *RoleService
	perms *PermissionService
}

func newRoleFixture(t *testing.T) *roleFixture {
	t.Helper()
	repo := NewMemoryRepository()
	tiers := stubTiers{tiers: map[int64]Tier{}}
	f := &roleFixture{
		repo:  repo,
		tiers: tiers,
		roles: NewRoleService(repo, tiers, DefaultRoleCatalog(), NopSink{}, nil, testLogger()),
		perms: NewPermissionService(repo, DefaultPermissionCatalog(), NopSink{}, nil, testLogger()),
	}
	ctx := context.Background()
	_, err := f.perms.SeedSystemPermissions(ctx, 1)
	require.NoError(t, err)
	_, err = f.roles.SeedSystemRoles(ctx, 1)
	require.NoError(t, err)
	return f
}

func (f *roleFixture) systemRole(t *testing.T, code string) *RoleTemplate {
	t.Helper()
	role, err := f.repo.GetRoleByCode(context.Background(), code, nil)
	require.NoError(t, err)
	return role
}

func TestSeedSystemRolesIdempotent(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()
	catalog := DefaultRoleCatalog()

	count, err := f.roles.SeedSystemRoles(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, len(catalog.Roles), count)

	roles, err := f.roles.ListRoles(ctx, nil, true, true)
	require.NoError(t, err)
	require.Len(t, roles, len(catalog.Roles))

	// Ordered by hierarchy level, then display order.
	assert.Equal(t, "platform_admin", roles[0].Code)
	assert.Equal(t, "client_viewer", roles[len(roles)-1].Code)

	preparer, err := f.repo.GetRoleByCode(ctx, "preparer", nil)
	require.NoError(t, err)
	spec, _ := catalog.Lookup("preparer")
	assert.ElementsMatch(t, spec.Permissions, preparer.Permissions)
}

func TestListRolesExcludeSystem(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()
	firmID := int64(10)
	f.tiers.tiers[firmID] = TierProfessional

	_, err := f.roles.CreateCustomRole(ctx, CreateRoleRequest{
		FirmID: &firmID, Code: "ops_lead", Name: "Ops Lead",
		Permissions: []string{"client.view"},
		CreatedBy:   1,
	})
	require.NoError(t, err)

	roles, err := f.roles.ListRoles(ctx, nil, false, true)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "ops_lead", roles[0].Code)
	for _, role := range roles {
		assert.False(t, role.IsSystem, "include_system=false returned system role %s", role.Code)
	}
}

func TestSeedSystemRolesRequiresPermissions(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewRoleService(repo, stubTiers{}, DefaultRoleCatalog(), NopSink{}, nil, testLogger())

	// Permissions were never seeded.
	_, err := svc.SeedSystemRoles(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeUnknownPermission))
}

func TestCreateCustomRoleRequiresFirm(t *testing.T) {
	f := newRoleFixture(t)

	_, err := f.roles.CreateCustomRole(context.Background(), CreateRoleRequest{
		Code: "ops_lead", Name: "Ops Lead",
		Permissions: []string{"client.view"},
		CreatedBy:   1,
	})
	assert.True(t, HasCode(err, CodeFirmContextRequired))
}

func TestCreateCustomRoleUnknownPermission(t *testing.T) {
	f := newRoleFixture(t)
	firmID := int64(10)
	f.tiers.tiers[firmID] = TierProfessional

	_, err := f.roles.CreateCustomRole(context.Background(), CreateRoleRequest{
		FirmID: &firmID, Code: "ops_lead", Name: "Ops Lead",
		Permissions: []string{"client.view", "client.levitate"},
		CreatedBy:   1,
	})
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeUnknownPermission))
	envelope, ok := AsError(err)
	require.True(t, ok)
	assert.Contains(t, envelope.Details, "client.levitate")
}

func TestCreateCustomRoleTierGate(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()
	firmID := int64(10)
	f.tiers.tiers[firmID] = TierStarter

	req := CreateRoleRequest{
		FirmID: &firmID, Code: "export_clerk", Name: "Export Clerk",
		Permissions: []string{"client.export", "profile.view"},
		CreatedBy:   1,
	}
	_, err := f.roles.CreateCustomRole(ctx, req)
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeTierRestricted))
	envelope, ok := AsError(err)
	require.True(t, ok)
	assert.Contains(t, envelope.Details, "client.export")

	// Nothing was written.
	_, err = f.repo.GetRoleByCode(ctx, "export_clerk", &firmID)
	assert.ErrorIs(t, err, ErrNotFound)

	// After a tier upgrade the same request succeeds.
	f.tiers.tiers[firmID] = TierProfessional
	role, err := f.roles.CreateCustomRole(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, HierarchyFirm, role.HierarchyLevel)
	assert.False(t, role.IsSystem)
	assert.ElementsMatch(t, []string{"client.export", "profile.view"}, role.Permissions)
}

func TestCreateCustomRoleDuplicateCode(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()
	firmID := int64(10)
	f.tiers.tiers[firmID] = TierProfessional

	req := CreateRoleRequest{
		FirmID: &firmID, Code: "ops_lead", Name: "Ops Lead",
		Permissions: []string{"client.view"},
		CreatedBy:   1,
	}
	_, err := f.roles.CreateCustomRole(ctx, req)
	require.NoError(t, err)

	_, err = f.roles.CreateCustomRole(ctx, req)
	assert.True(t, HasCode(err, CodeDuplicateRoleCode))
}

func TestUpdateRolePermissionsReplacesSet(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()
	firmID := int64(10)
	f.tiers.tiers[firmID] = TierProfessional

	role, err := f.roles.CreateCustomRole(ctx, CreateRoleRequest{
		FirmID: &firmID, Code: "ops_lead", Name: "Ops Lead",
		Permissions: []string{"client.view", "client.edit"},
		CreatedBy:   1,
	})
	require.NoError(t, err)

	err = f.roles.UpdateRolePermissions(ctx, 1, role.ID, &firmID, []string{"client.view", "return.view"})
	require.NoError(t, err)

	updated, err := f.roles.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"client.view", "return.view"}, updated.Permissions)
}

func TestUpdateSystemRoleRejected(t *testing.T) {
	f := newRoleFixture(t)
	preparer := f.systemRole(t, "preparer")

	err := f.roles.UpdateRolePermissions(context.Background(), 1, preparer.ID, nil, []string{"client.view"})
	assert.True(t, HasCode(err, CodeSystemRoleImmutable))

	err = f.roles.DeleteRole(context.Background(), 1, preparer.ID, nil)
	assert.True(t, HasCode(err, CodeSystemRoleImmutable))
}

func TestCrossFirmAccessRejected(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()
	firmA, firmB := int64(10), int64(11)
	f.tiers.tiers[firmA] = TierProfessional

	role, err := f.roles.CreateCustomRole(ctx, CreateRoleRequest{
		FirmID: &firmA, Code: "ops_lead", Name: "Ops Lead",
		Permissions: []string{"client.view"},
		CreatedBy:   1,
	})
	require.NoError(t, err)

	err = f.roles.UpdateRolePermissions(ctx, 1, role.ID, &firmB, []string{"client.view"})
	assert.True(t, HasCode(err, CodeCrossFirmAccess))

	err = f.roles.DeleteRole(ctx, 1, role.ID, &firmB)
	assert.True(t, HasCode(err, CodeCrossFirmAccess))

	err = f.roles.DeleteRole(ctx, 1, role.ID, nil)
	assert.True(t, HasCode(err, CodeCrossFirmAccess))
}

func TestAssignRoleHierarchyGuard(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()
	partnerAdmin := f.systemRole(t, "partner_admin")
	preparer := f.systemRole(t, "preparer")

	// A firm-level actor cannot hand out partner seniority.
	_, err := f.roles.AssignRole(ctx, AssignRequest{
		UserID: 7, RoleID: partnerAdmin.ID,
		AssignedBy: 2, AssignerHierarchyLevel: HierarchyFirm,
	})
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeHierarchyViolation))
	assert.True(t, IsKind(err, KindPolicy))

	assignments, err := f.roles.ListAssignments(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, assignments, "failed assignment must write nothing")

	// Assigning at or below the actor's own level succeeds.
	_, err = f.roles.AssignRole(ctx, AssignRequest{
		UserID: 7, RoleID: preparer.ID,
		AssignedBy: 2, AssignerHierarchyLevel: HierarchyFirm,
	})
	require.NoError(t, err)

	// Equal seniority is allowed too.
	_, err = f.roles.AssignRole(ctx, AssignRequest{
		UserID: 8, RoleID: partnerAdmin.ID,
		AssignedBy: 3, AssignerHierarchyLevel: HierarchyPartner,
	})
	require.NoError(t, err)
}

func TestAssignRolePrimaryFlip(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()
	preparer := f.systemRole(t, "preparer")
	reviewer := f.systemRole(t, "reviewer")

	_, err := f.roles.AssignRole(ctx, AssignRequest{
		UserID: 7, RoleID: preparer.ID, IsPrimary: true,
		AssignedBy: 2, AssignerHierarchyLevel: HierarchyFirm,
	})
	require.NoError(t, err)

	_, err = f.roles.AssignRole(ctx, AssignRequest{
		UserID: 7, RoleID: reviewer.ID, IsPrimary: true,
		AssignedBy: 2, AssignerHierarchyLevel: HierarchyFirm,
	})
	require.NoError(t, err)

	assignments, err := f.roles.ListAssignments(ctx, 7)
	require.NoError(t, err)
	require.Len(t, assignments, 2)

	var primaries []int64
	for _, a := range assignments {
		if a.IsPrimary {
			primaries = append(primaries, a.RoleID)
		}
	}
	require.Len(t, primaries, 1, "exactly one primary assignment")
	assert.Equal(t, reviewer.ID, primaries[0])
}

func TestAssignRoleUpsertsExisting(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()
	preparer := f.systemRole(t, "preparer")

	expiry := time.Now().Add(24 * time.Hour).UTC()
	_, err := f.roles.AssignRole(ctx, AssignRequest{
		UserID: 7, RoleID: preparer.ID,
		AssignedBy: 2, AssignerHierarchyLevel: HierarchyFirm,
	})
	require.NoError(t, err)

	_, err = f.roles.AssignRole(ctx, AssignRequest{
		UserID: 7, RoleID: preparer.ID, ExpiresAt: &expiry,
		AssignedBy: 2, AssignerHierarchyLevel: HierarchyFirm,
	})
	require.NoError(t, err)

	assignments, err := f.roles.ListAssignments(ctx, 7)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	require.NotNil(t, assignments[0].ExpiresAt)
	assert.True(t, assignments[0].ExpiresAt.Equal(expiry))
}

func TestRemoveRole(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()
	preparer := f.systemRole(t, "preparer")

	err := f.roles.RemoveRole(ctx, 1, 7, preparer.ID)
	assert.True(t, HasCode(err, CodeAssignmentNotFound))

	_, err = f.roles.AssignRole(ctx, AssignRequest{
		UserID: 7, RoleID: preparer.ID,
		AssignedBy: 2, AssignerHierarchyLevel: HierarchyFirm,
	})
	require.NoError(t, err)

	require.NoError(t, f.roles.RemoveRole(ctx, 1, 7, preparer.ID))

	assignments, err := f.roles.ListAssignments(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, assignments)
}

func TestDeleteRoleInUse(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()
	firmID := int64(10)
	f.tiers.tiers[firmID] = TierProfessional

	role, err := f.roles.CreateCustomRole(ctx, CreateRoleRequest{
		FirmID: &firmID, Code: "ops_lead", Name: "Ops Lead",
		Permissions: []string{"client.view"},
		CreatedBy:   1,
	})
	require.NoError(t, err)

	_, err = f.roles.AssignRole(ctx, AssignRequest{
		UserID: 7, RoleID: role.ID,
		AssignedBy: 2, AssignerHierarchyLevel: HierarchyFirm,
	})
	require.NoError(t, err)

	err = f.roles.DeleteRole(ctx, 1, role.ID, &firmID)
	assert.True(t, HasCode(err, CodeRoleInUse))

	require.NoError(t, f.roles.RemoveRole(ctx, 1, 7, role.ID))
	require.NoError(t, f.roles.DeleteRole(ctx, 1, role.ID, &firmID))

	_, err = f.roles.GetRole(ctx, role.ID)
	assert.True(t, HasCode(err, CodeRoleNotFound))
}

func TestRoleMutationsBumpCacheVersions(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()
	preparer := f.systemRole(t, "preparer")

	_, err := f.roles.AssignRole(ctx, AssignRequest{
		UserID: 7, RoleID: preparer.ID,
		AssignedBy: 2, AssignerHierarchyLevel: HierarchyFirm,
	})
	require.NoError(t, err)

	version, err := f.repo.GetCacheVersion(ctx, ScopeUser, "7")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	firmID := int64(10)
	f.tiers.tiers[firmID] = TierProfessional
	_, err = f.roles.CreateCustomRole(ctx, CreateRoleRequest{
		FirmID: &firmID, Code: "ops_lead", Name: "Ops Lead",
		Permissions: []string{"client.view"},
		CreatedBy:   1,
	})
	require.NoError(t, err)

	version, err = f.repo.GetCacheVersion(ctx, ScopeFirm, "10")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}
