package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryPolicy(t *testing.T) {
	level, restriction := CategoryPolicy(CategoryPlatform)
	assert.Equal(t, HierarchyPlatform, level)
	assert.Equal(t, []Tier{TierEnterprise}, restriction)

	for _, category := range []string{CategoryFirm, CategoryTeam, CategoryClient, CategoryReturn, CategoryDocument} {
		level, restriction = CategoryPolicy(category)
		assert.Equal(t, HierarchyFirm, level, category)
		assert.Equal(t, []Tier{TierProfessional, TierEnterprise}, restriction, category)
	}

	for _, category := range []string{CategoryBilling, CategoryReport, CategoryProfile, "unknown"} {
		level, restriction = CategoryPolicy(category)
		assert.Equal(t, HierarchyUser, level, category)
		assert.Nil(t, restriction, category)
	}
}

func TestDefaultCatalogsAreConsistent(t *testing.T) {
	perms := DefaultPermissionCatalog()
	roles := DefaultRoleCatalog()

	codes := make(map[string]struct{}, len(perms.Permissions))
	for _, spec := range perms.Permissions {
		_, dup := codes[spec.Code]
		require.False(t, dup, "duplicate permission code %s", spec.Code)
		codes[spec.Code] = struct{}{}
		assert.NotEmpty(t, spec.Name, spec.Code)
		assert.NotEmpty(t, spec.Category, spec.Code)
	}

	roleCodes := make(map[string]struct{}, len(roles.Roles))
	for _, role := range roles.Roles {
		_, dup := roleCodes[role.Code]
		require.False(t, dup, "duplicate role code %s", role.Code)
		roleCodes[role.Code] = struct{}{}
		require.NotEmpty(t, role.Permissions, role.Code)
		for _, code := range role.Permissions {
			_, ok := codes[code]
			assert.True(t, ok, "role %s references uncataloged permission %s", role.Code, code)
		}
	}
}

func TestDefaultRoleCatalogHierarchy(t *testing.T) {
	roles := DefaultRoleCatalog()

	admin, ok := roles.Lookup("platform_admin")
	require.True(t, ok)
	assert.Equal(t, HierarchyPlatform, admin.HierarchyLevel)

	viewer, ok := roles.Lookup("client_viewer")
	require.True(t, ok)
	assert.Equal(t, HierarchyResource, viewer.HierarchyLevel)

	_, ok = roles.Lookup("missing_role")
	assert.False(t, ok)
}
