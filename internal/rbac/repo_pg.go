package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/firmdesk/firmdesk/internal/platform/db"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository implements the Repository gateway on PostgreSQL.
type PGRepository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewPGRepository constructs the PostgreSQL gateway.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{db: pool, pool: pool}
}

var _ Repository = (*PGRepository)(nil)

// Migrate creates the engine's tables idempotently. It is run explicitly
// once at service startup, never lazily on first use.
func (r *PGRepository) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS permissions (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			min_hierarchy_level INT NOT NULL,
			tier_restriction TEXT[] NOT NULL DEFAULT '{}',
			is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			is_system BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS role_templates (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			code TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			hierarchy_level INT NOT NULL,
			firm_id BIGINT,
			partner_id BIGINT,
			parent_role_id BIGINT,
			is_system BOOLEAN NOT NULL DEFAULT FALSE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			is_assignable BOOLEAN NOT NULL DEFAULT TRUE,
			display_order INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS role_templates_code_scope_idx
			ON role_templates (code, COALESCE(firm_id, 0))`,
		`CREATE TABLE IF NOT EXISTS role_permissions (
			role_id BIGINT NOT NULL REFERENCES role_templates(id) ON DELETE CASCADE,
			permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (role_id, permission_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_role_assignments (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			user_id BIGINT NOT NULL,
			role_id BIGINT NOT NULL REFERENCES role_templates(id),
			is_primary BOOLEAN NOT NULL DEFAULT FALSE,
			assigned_by BIGINT NOT NULL,
			assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ,
			notes TEXT,
			UNIQUE (user_id, role_id)
		)`,
		`CREATE INDEX IF NOT EXISTS user_role_assignments_user_idx
			ON user_role_assignments (user_id)`,
		`CREATE TABLE IF NOT EXISTS user_permission_overrides (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			user_id BIGINT NOT NULL,
			permission_id BIGINT NOT NULL REFERENCES permissions(id),
			resource_type TEXT,
			resource_id TEXT,
			action TEXT NOT NULL CHECK (action IN ('grant', 'revoke')),
			expires_at TIMESTAMPTZ,
			reason TEXT NOT NULL DEFAULT '',
			created_by BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS user_permission_overrides_natural_idx
			ON user_permission_overrides (user_id, permission_id, COALESCE(resource_type, ''), COALESCE(resource_id, ''))`,
		`CREATE TABLE IF NOT EXISTS rbac_audit_log (
			id UUID PRIMARY KEY,
			actor_id BIGINT NOT NULL,
			action TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id TEXT NOT NULL,
			before_codes TEXT[] NOT NULL DEFAULT '{}',
			after_codes TEXT[] NOT NULL DEFAULT '{}',
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS permission_cache_versions (
			scope TEXT NOT NULL,
			scope_id TEXT NOT NULL,
			version BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (scope, scope_id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("rbac: migrate: %w", err)
		}
	}
	return nil
}

// WithTx runs fn against a transactional view of the repository.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if r.pool == nil {
		// Already inside a transaction; reuse it.
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PGRepository{db: tx})
	})
}

func (r *PGRepository) UpsertPermission(ctx context.Context, perm Permission) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO permissions (code, name, description, category, min_hierarchy_level, tier_restriction, is_enabled, is_system)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			min_hierarchy_level = EXCLUDED.min_hierarchy_level,
			tier_restriction = EXCLUDED.tier_restriction,
			is_enabled = EXCLUDED.is_enabled,
			updated_at = NOW()
		RETURNING id`,
		perm.Code, perm.Name, perm.Description, perm.Category, perm.MinHierarchyLevel,
		tiersToStrings(perm.TierRestriction), perm.IsEnabled, perm.IsSystem,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("rbac: upsert permission %s: %w", perm.Code, err)
	}
	return id, nil
}

func (r *PGRepository) ListPermissions(ctx context.Context, category string, enabledOnly bool) ([]Permission, error) {
	query := `SELECT id, code, name, description, category, min_hierarchy_level, tier_restriction, is_enabled, is_system, created_at, updated_at
		FROM permissions WHERE ($1 = '' OR category = $1) AND (NOT $2 OR is_enabled) ORDER BY code`
	rows, err := r.db.Query(ctx, query, category, enabledOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func (r *PGRepository) GetPermissionByCode(ctx context.Context, code string) (*Permission, error) {
	row := r.db.QueryRow(ctx, `SELECT id, code, name, description, category, min_hierarchy_level, tier_restriction, is_enabled, is_system, created_at, updated_at
		FROM permissions WHERE code = $1`, code)
	perm, err := scanPermission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return perm, nil
}

func (r *PGRepository) GetPermissionsByCodes(ctx context.Context, codes []string) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT id, code, name, description, category, min_hierarchy_level, tier_restriction, is_enabled, is_system, created_at, updated_at
		FROM permissions WHERE code = ANY($1) ORDER BY code`, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func (r *PGRepository) ListRoles(ctx context.Context, filter RoleFilter) ([]RoleTemplate, error) {
	query := `SELECT id, code, name, description, hierarchy_level, firm_id, partner_id, parent_role_id, is_system, is_active, is_assignable, display_order, created_at, updated_at
		FROM role_templates WHERE `
	var args []any
	switch {
	case filter.FirmID != nil && filter.IncludeSystem:
		query += `(is_system OR firm_id = $1)`
		args = append(args, *filter.FirmID)
	case filter.FirmID != nil:
		query += `firm_id = $1`
		args = append(args, *filter.FirmID)
	case filter.IncludeSystem:
		query += `is_system`
	default:
		query += `NOT is_system`
	}
	if filter.ActiveOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY hierarchy_level, display_order, code`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []RoleTemplate
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return r.attachPermissionCodes(ctx, roles)
}

func (r *PGRepository) GetRole(ctx context.Context, id int64) (*RoleTemplate, error) {
	row := r.db.QueryRow(ctx, `SELECT id, code, name, description, hierarchy_level, firm_id, partner_id, parent_role_id, is_system, is_active, is_assignable, display_order, created_at, updated_at
		FROM role_templates WHERE id = $1`, id)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	codes, err := r.ListRolePermissionCodes(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = codes
	return role, nil
}

func (r *PGRepository) GetRoleByCode(ctx context.Context, code string, firmID *int64) (*RoleTemplate, error) {
	var row pgx.Row
	if firmID == nil {
		row = r.db.QueryRow(ctx, `SELECT id, code, name, description, hierarchy_level, firm_id, partner_id, parent_role_id, is_system, is_active, is_assignable, display_order, created_at, updated_at
			FROM role_templates WHERE code = $1 AND firm_id IS NULL`, code)
	} else {
		row = r.db.QueryRow(ctx, `SELECT id, code, name, description, hierarchy_level, firm_id, partner_id, parent_role_id, is_system, is_active, is_assignable, display_order, created_at, updated_at
			FROM role_templates WHERE code = $1 AND firm_id = $2`, code, *firmID)
	}
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	codes, err := r.ListRolePermissionCodes(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = codes
	return role, nil
}

func (r *PGRepository) CreateRole(ctx context.Context, role RoleTemplate) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO role_templates (code, name, description, hierarchy_level, firm_id, partner_id, parent_role_id, is_system, is_active, is_assignable, display_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		role.Code, role.Name, role.Description, role.HierarchyLevel, role.FirmID, role.PartnerID,
		role.ParentRoleID, role.IsSystem, role.IsActive, role.IsAssignable, role.DisplayOrder,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrAlreadyExists
		}
		return 0, fmt.Errorf("rbac: create role %s: %w", role.Code, err)
	}
	return id, nil
}

func (r *PGRepository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM role_templates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceRolePermissions swaps the entire permission set for a role.
// Callers wrap it in WithTx when concurrent readers must not observe the
// intermediate empty state.
func (r *PGRepository) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return err
	}
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1, unnest($2::BIGINT[])
		ON CONFLICT DO NOTHING`, roleID, permissionIDs)
	return err
}

func (r *PGRepository) ListRolePermissionCodes(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT p.code FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1 ORDER BY p.code`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (r *PGRepository) PermissionsForRoles(ctx context.Context, roleIDs []int64) ([]Permission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT p.id, p.code, p.name, p.description, p.category, p.min_hierarchy_level, p.tier_restriction, p.is_enabled, p.is_system, p.created_at, p.updated_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = ANY($1)`, roleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func (r *PGRepository) ListAssignments(ctx context.Context, userID int64) ([]UserRoleAssignment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, role_id, is_primary, assigned_by, assigned_at, expires_at, notes
		FROM user_role_assignments WHERE user_id = $1 ORDER BY assigned_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assignments []UserRoleAssignment
	for rows.Next() {
		var a UserRoleAssignment
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &a.IsPrimary, &a.AssignedBy, &a.AssignedAt, &a.ExpiresAt, &a.Notes); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

func (r *PGRepository) CountActiveAssignments(ctx context.Context, roleID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM user_role_assignments
		WHERE role_id = $1 AND (expires_at IS NULL OR expires_at > NOW())`, roleID).Scan(&count)
	return count, err
}

func (r *PGRepository) ClearPrimaryAssignments(ctx context.Context, userID int64) error {
	_, err := r.db.Exec(ctx, `UPDATE user_role_assignments SET is_primary = FALSE WHERE user_id = $1 AND is_primary`, userID)
	return err
}

func (r *PGRepository) UpsertAssignment(ctx context.Context, a UserRoleAssignment) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO user_role_assignments (user_id, role_id, is_primary, assigned_by, assigned_at, expires_at, notes)
		VALUES ($1, $2, $3, $4, NOW(), $5, $6)
		ON CONFLICT (user_id, role_id) DO UPDATE SET
			is_primary = EXCLUDED.is_primary,
			assigned_by = EXCLUDED.assigned_by,
			assigned_at = NOW(),
			expires_at = EXCLUDED.expires_at,
			notes = EXCLUDED.notes
		RETURNING id`,
		a.UserID, a.RoleID, a.IsPrimary, a.AssignedBy, a.ExpiresAt, a.Notes,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("rbac: upsert assignment user=%d role=%d: %w", a.UserID, a.RoleID, err)
	}
	return id, nil
}

func (r *PGRepository) DeleteAssignment(ctx context.Context, userID, roleID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_role_assignments WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PGRepository) UpsertOverride(ctx context.Context, o UserPermissionOverride) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO user_permission_overrides (user_id, permission_id, resource_type, resource_id, action, expires_at, reason, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, permission_id, COALESCE(resource_type, ''), COALESCE(resource_id, '')) DO UPDATE SET
			action = EXCLUDED.action,
			expires_at = EXCLUDED.expires_at,
			reason = EXCLUDED.reason,
			created_by = EXCLUDED.created_by,
			created_at = NOW()
		RETURNING id`,
		o.UserID, o.PermissionID, o.ResourceType, o.ResourceID, string(o.Action), o.ExpiresAt, o.Reason, o.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("rbac: upsert override user=%d permission=%d: %w", o.UserID, o.PermissionID, err)
	}
	return id, nil
}

func (r *PGRepository) ListOverrides(ctx context.Context, userID int64) ([]UserPermissionOverride, error) {
	rows, err := r.db.Query(ctx, `
		SELECT o.id, o.user_id, o.permission_id, p.code, o.resource_type, o.resource_id, o.action, o.expires_at, o.reason, o.created_by, o.created_at
		FROM user_permission_overrides o
		JOIN permissions p ON p.id = o.permission_id
		WHERE o.user_id = $1 ORDER BY o.created_at, o.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var overrides []UserPermissionOverride
	for rows.Next() {
		var o UserPermissionOverride
		var action string
		if err := rows.Scan(&o.ID, &o.UserID, &o.PermissionID, &o.PermissionCode, &o.ResourceType, &o.ResourceID, &action, &o.ExpiresAt, &o.Reason, &o.CreatedBy, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Action = OverrideAction(action)
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

func (r *PGRepository) DeleteOverride(ctx context.Context, userID, overrideID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_permission_overrides WHERE id = $1 AND user_id = $2`, overrideID, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PGRepository) BumpCacheVersion(ctx context.Context, scope CacheScope, scopeID string) (int64, error) {
	var version int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO permission_cache_versions (scope, scope_id, version) VALUES ($1, $2, 1)
		ON CONFLICT (scope, scope_id) DO UPDATE SET version = permission_cache_versions.version + 1
		RETURNING version`, string(scope), scopeID).Scan(&version)
	return version, err
}

func (r *PGRepository) GetCacheVersion(ctx context.Context, scope CacheScope, scopeID string) (int64, error) {
	var version int64
	err := r.db.QueryRow(ctx, `SELECT version FROM permission_cache_versions WHERE scope = $1 AND scope_id = $2`,
		string(scope), scopeID).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return version, err
}

func (r *PGRepository) SetCacheVersion(ctx context.Context, v CacheVersion) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO permission_cache_versions (scope, scope_id, version) VALUES ($1, $2, $3)
		ON CONFLICT (scope, scope_id) DO UPDATE SET version = GREATEST(permission_cache_versions.version, EXCLUDED.version)`,
		string(v.Scope), v.ScopeID, v.Version)
	return err
}

func (r *PGRepository) InsertAuditLog(ctx context.Context, event AuditEvent) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO rbac_audit_log (id, actor_id, action, target_type, target_id, before_codes, after_codes, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		event.ID, event.ActorID, event.Action, event.TargetType, event.TargetID,
		event.Before, event.After, nilZeroTime(event.OccurredAt))
	return err
}

// attachPermissionCodes loads permission codes for many roles in one query.
func (r *PGRepository) attachPermissionCodes(ctx context.Context, roles []RoleTemplate) ([]RoleTemplate, error) {
	if len(roles) == 0 {
		return roles, nil
	}
	ids := make([]int64, len(roles))
	index := make(map[int64]int, len(roles))
	for i, role := range roles {
		ids[i] = role.ID
		index[role.ID] = i
	}
	rows, err := r.db.Query(ctx, `
		SELECT rp.role_id, p.code FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = ANY($1) ORDER BY p.code`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var roleID int64
		var code string
		if err := rows.Scan(&roleID, &code); err != nil {
			return nil, err
		}
		if i, ok := index[roleID]; ok {
			roles[i].Permissions = append(roles[i].Permissions, code)
		}
	}
	return roles, rows.Err()
}

func scanPermission(row pgx.Row) (*Permission, error) {
	var p Permission
	var restriction []string
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.Category, &p.MinHierarchyLevel,
		&restriction, &p.IsEnabled, &p.IsSystem, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.TierRestriction = stringsToTiers(restriction)
	return &p, nil
}

func scanPermissions(rows pgx.Rows) ([]Permission, error) {
	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, *perm)
	}
	return perms, rows.Err()
}

func scanRole(row pgx.Row) (*RoleTemplate, error) {
	var role RoleTemplate
	if err := row.Scan(&role.ID, &role.Code, &role.Name, &role.Description, &role.HierarchyLevel,
		&role.FirmID, &role.PartnerID, &role.ParentRoleID, &role.IsSystem, &role.IsActive,
		&role.IsAssignable, &role.DisplayOrder, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return nil, err
	}
	return &role, nil
}

func tiersToStrings(tiers []Tier) []string {
	out := make([]string, len(tiers))
	for i, t := range tiers {
		out[i] = string(t)
	}
	return out
}

func stringsToTiers(raw []string) []Tier {
	if len(raw) == 0 {
		return nil
	}
	out := make([]Tier, len(raw))
	for i, s := range raw {
		out[i] = Tier(s)
	}
	return out
}

func nilZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
