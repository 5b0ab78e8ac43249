package rbac

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepository is the in-process Repository implementation. It backs
// tests and single-node deployments without PostgreSQL, and mirrors the
// gateway invariants: unique codes, upsert-by-natural-key, delete+insert
// permission replacement.
type MemoryRepository struct {
	mu sync.Mutex

	nextID      int64
	permissions map[int64]Permission
	roles       map[int64]RoleTemplate
	rolePerms   map[int64]map[int64]struct{}
	assignments map[int64]UserRoleAssignment
	overrides   map[int64]UserPermissionOverride
	versions    map[string]int64
	auditLog    []AuditEvent

	now func() time.Time
}

// NewMemoryRepository constructs an empty in-memory gateway.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		permissions: make(map[int64]Permission),
		roles:       make(map[int64]RoleTemplate),
		rolePerms:   make(map[int64]map[int64]struct{}),
		assignments: make(map[int64]UserRoleAssignment),
		overrides:   make(map[int64]UserPermissionOverride),
		versions:    make(map[string]int64),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

var _ Repository = (*MemoryRepository)(nil)

// SetClock overrides the repository clock. Test hook.
func (r *MemoryRepository) SetClock(now func() time.Time) { r.now = now }

// AuditLog returns the recorded audit events. Test hook.
func (r *MemoryRepository) AuditLog() []AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AuditEvent, len(r.auditLog))
	copy(out, r.auditLog)
	return out
}

// WithTx runs fn against the repository itself. The single mutex makes each
// call sequentially consistent; there is no rollback, so fn must validate
// before mutating, which the services do.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, r)
}

func (r *MemoryRepository) UpsertPermission(_ context.Context, perm Permission) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.permissions {
		if existing.Code == perm.Code {
			perm.ID = id
			perm.CreatedAt = existing.CreatedAt
			perm.UpdatedAt = r.now()
			r.permissions[id] = perm
			return id, nil
		}
	}
	r.nextID++
	perm.ID = r.nextID
	perm.CreatedAt = r.now()
	perm.UpdatedAt = perm.CreatedAt
	r.permissions[perm.ID] = perm
	return perm.ID, nil
}

func (r *MemoryRepository) ListPermissions(_ context.Context, category string, enabledOnly bool) ([]Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var perms []Permission
	for _, p := range r.permissions {
		if category != "" && p.Category != category {
			continue
		}
		if enabledOnly && !p.IsEnabled {
			continue
		}
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Code < perms[j].Code })
	return perms, nil
}

func (r *MemoryRepository) GetPermissionByCode(_ context.Context, code string) (*Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.permissions {
		if p.Code == code {
			out := p
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) GetPermissionsByCodes(_ context.Context, codes []string) ([]Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		want[code] = struct{}{}
	}
	var perms []Permission
	for _, p := range r.permissions {
		if _, ok := want[p.Code]; ok {
			perms = append(perms, p)
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Code < perms[j].Code })
	return perms, nil
}

func (r *MemoryRepository) ListRoles(_ context.Context, filter RoleFilter) ([]RoleTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var roles []RoleTemplate
	for _, role := range r.roles {
		switch {
		case filter.FirmID != nil && filter.IncludeSystem:
			if !role.IsSystem && (role.FirmID == nil || *role.FirmID != *filter.FirmID) {
				continue
			}
		case filter.FirmID != nil:
			if role.FirmID == nil || *role.FirmID != *filter.FirmID {
				continue
			}
		case filter.IncludeSystem:
			if !role.IsSystem {
				continue
			}
		default:
			if role.IsSystem {
				continue
			}
		}
		if filter.ActiveOnly && !role.IsActive {
			continue
		}
		role.Permissions = r.permissionCodesLocked(role.ID)
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool {
		a, b := roles[i], roles[j]
		if a.HierarchyLevel != b.HierarchyLevel {
			return a.HierarchyLevel < b.HierarchyLevel
		}
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		return strings.Compare(a.Code, b.Code) < 0
	})
	return roles, nil
}

func (r *MemoryRepository) GetRole(_ context.Context, id int64) (*RoleTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	role.Permissions = r.permissionCodesLocked(id)
	return &role, nil
}

func (r *MemoryRepository) GetRoleByCode(_ context.Context, code string, firmID *int64) (*RoleTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range r.roles {
		if role.Code != code {
			continue
		}
		if firmID == nil && role.FirmID != nil {
			continue
		}
		if firmID != nil && (role.FirmID == nil || *role.FirmID != *firmID) {
			continue
		}
		role.Permissions = r.permissionCodesLocked(role.ID)
		return &role, nil
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) CreateRole(_ context.Context, role RoleTemplate) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.roles {
		if existing.Code == role.Code && int64PtrEqual(existing.FirmID, role.FirmID) {
			return 0, ErrAlreadyExists
		}
	}
	r.nextID++
	role.ID = r.nextID
	role.CreatedAt = r.now()
	role.UpdatedAt = role.CreatedAt
	role.Permissions = nil
	r.roles[role.ID] = role
	return role.ID, nil
}

func (r *MemoryRepository) DeleteRole(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[id]; !ok {
		return ErrNotFound
	}
	delete(r.roles, id)
	delete(r.rolePerms, id)
	return nil
}

func (r *MemoryRepository) ReplaceRolePermissions(_ context.Context, roleID int64, permissionIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		set[id] = struct{}{}
	}
	r.rolePerms[roleID] = set
	return nil
}

func (r *MemoryRepository) ListRolePermissionCodes(_ context.Context, roleID int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.permissionCodesLocked(roleID), nil
}

func (r *MemoryRepository) PermissionsForRoles(_ context.Context, roleIDs []int64) ([]Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[int64]struct{})
	var perms []Permission
	for _, roleID := range roleIDs {
		for permID := range r.rolePerms[roleID] {
			if _, dup := seen[permID]; dup {
				continue
			}
			seen[permID] = struct{}{}
			if p, ok := r.permissions[permID]; ok {
				perms = append(perms, p)
			}
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Code < perms[j].Code })
	return perms, nil
}

func (r *MemoryRepository) ListAssignments(_ context.Context, userID int64) ([]UserRoleAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []UserRoleAssignment
	for _, a := range r.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.Before(out[j].AssignedAt) })
	return out, nil
}

func (r *MemoryRepository) CountActiveAssignments(_ context.Context, roleID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	count := 0
	for _, a := range r.assignments {
		if a.RoleID == roleID && a.Active(now) {
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepository) ClearPrimaryAssignments(_ context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.assignments {
		if a.UserID == userID && a.IsPrimary {
			a.IsPrimary = false
			r.assignments[id] = a
		}
	}
	return nil
}

func (r *MemoryRepository) UpsertAssignment(_ context.Context, a UserRoleAssignment) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.assignments {
		if existing.UserID == a.UserID && existing.RoleID == a.RoleID {
			a.ID = id
			a.AssignedAt = r.now()
			r.assignments[id] = a
			return id, nil
		}
	}
	r.nextID++
	a.ID = r.nextID
	a.AssignedAt = r.now()
	r.assignments[a.ID] = a
	return a.ID, nil
}

func (r *MemoryRepository) DeleteAssignment(_ context.Context, userID, roleID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.assignments {
		if a.UserID == userID && a.RoleID == roleID {
			delete(r.assignments, id)
			return 1, nil
		}
	}
	return 0, nil
}

func (r *MemoryRepository) UpsertOverride(_ context.Context, o UserPermissionOverride) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.permissions[o.PermissionID]; ok {
		o.PermissionCode = p.Code
	}
	for id, existing := range r.overrides {
		if existing.UserID == o.UserID && existing.PermissionID == o.PermissionID &&
			strPtrEqual(existing.ResourceType, o.ResourceType) && strPtrEqual(existing.ResourceID, o.ResourceID) {
			o.ID = id
			o.CreatedAt = r.now()
			r.overrides[id] = o
			return id, nil
		}
	}
	r.nextID++
	o.ID = r.nextID
	o.CreatedAt = r.now()
	r.overrides[o.ID] = o
	return o.ID, nil
}

func (r *MemoryRepository) ListOverrides(_ context.Context, userID int64) ([]UserPermissionOverride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []UserPermissionOverride
	for _, o := range r.overrides {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepository) DeleteOverride(_ context.Context, userID, overrideID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.overrides[overrideID]; ok && o.UserID == userID {
		delete(r.overrides, overrideID)
		return 1, nil
	}
	return 0, nil
}

func (r *MemoryRepository) BumpCacheVersion(_ context.Context, scope CacheScope, scopeID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := string(scope) + ":" + scopeID
	r.versions[key]++
	return r.versions[key], nil
}

func (r *MemoryRepository) GetCacheVersion(_ context.Context, scope CacheScope, scopeID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.versions[string(scope)+":"+scopeID], nil
}

func (r *MemoryRepository) SetCacheVersion(_ context.Context, v CacheVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := string(v.Scope) + ":" + v.ScopeID
	if v.Version > r.versions[key] {
		r.versions[key] = v.Version
	}
	return nil
}

func (r *MemoryRepository) InsertAuditLog(_ context.Context, event AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auditLog = append(r.auditLog, event)
	return nil
}

func (r *MemoryRepository) permissionCodesLocked(roleID int64) []string {
	var codes []string
	for permID := range r.rolePerms[roleID] {
		if p, ok := r.permissions[permID]; ok {
			codes = append(codes, p.Code)
		}
	}
	sort.Strings(codes)
	return codes
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func strPtrEqual(a, b *string) bool {
	av, bv := "", ""
	if a != nil {
		av = *a
	}
	if b != nil {
		bv = *b
	}
	return av == bv
}
