package rbac

import (
	"context"
	"errors"
)

// Gateway sentinels. Business-rule errors are built on top of these by the
// services; the gateway itself only reports row-level facts.
var (
	ErrNotFound      = errors.New("rbac: not found")
	ErrAlreadyExists = errors.New("rbac: already exists")
)

// RoleFilter narrows ListRoles.
type RoleFilter struct {
	FirmID        *int64
	IncludeSystem bool
	ActiveOnly    bool
}

// Repository is the persistence gateway port. Two implementations exist and
// are selected once at construction: PGRepository (pgx) and MemoryRepository.
// The gateway must preserve the uniqueness and foreign-key invariants of the
// data model and support transactional delete+insert via WithTx.
type Repository interface {
	// WithTx runs fn against a transactional view of the repository. The
	// delete-then-insert permission replacement and the primary-flag flip
	// run inside it so concurrent readers never observe a partial state.
	WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error

	// Permissions.
	UpsertPermission(ctx context.Context, perm Permission) (int64, error)
	ListPermissions(ctx context.Context, category string, enabledOnly bool) ([]Permission, error)
	GetPermissionByCode(ctx context.Context, code string) (*Permission, error)
	GetPermissionsByCodes(ctx context.Context, codes []string) ([]Permission, error)

	// Role templates.
	ListRoles(ctx context.Context, filter RoleFilter) ([]RoleTemplate, error)
	GetRole(ctx context.Context, id int64) (*RoleTemplate, error)
	GetRoleByCode(ctx context.Context, code string, firmID *int64) (*RoleTemplate, error)
	CreateRole(ctx context.Context, role RoleTemplate) (int64, error)
	DeleteRole(ctx context.Context, id int64) error
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	ListRolePermissionCodes(ctx context.Context, roleID int64) ([]string, error)
	PermissionsForRoles(ctx context.Context, roleIDs []int64) ([]Permission, error)

	// User-role assignments.
	ListAssignments(ctx context.Context, userID int64) ([]UserRoleAssignment, error)
	CountActiveAssignments(ctx context.Context, roleID int64) (int, error)
	ClearPrimaryAssignments(ctx context.Context, userID int64) error
	UpsertAssignment(ctx context.Context, assignment UserRoleAssignment) (int64, error)
	DeleteAssignment(ctx context.Context, userID, roleID int64) (int64, error)

	// Per-user overrides. ListOverrides returns both general and
	// resource-scoped rows joined with their permission code.
	UpsertOverride(ctx context.Context, override UserPermissionOverride) (int64, error)
	ListOverrides(ctx context.Context, userID int64) ([]UserPermissionOverride, error)
	DeleteOverride(ctx context.Context, userID, overrideID int64) (int64, error)

	// Cache version counters (global/firm/user scopes).
	BumpCacheVersion(ctx context.Context, scope CacheScope, scopeID string) (int64, error)
	GetCacheVersion(ctx context.Context, scope CacheScope, scopeID string) (int64, error)
	SetCacheVersion(ctx context.Context, version CacheVersion) error

	// Append-only policy audit trail.
	InsertAuditLog(ctx context.Context, event AuditEvent) error
}

// FirmTierLookup resolves a firm's current subscription tier. Implemented
// by the tenancy repository; stubbed in tests.
type FirmTierLookup interface {
	FirmTier(ctx context.Context, firmID int64) (Tier, error)
}

// Invalidator drops cached permission sets after a mutation. Both cache
// implementations satisfy it; services tolerate a nil invalidator.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID int64)
	InvalidateFirm(ctx context.Context, firmID int64)
}
