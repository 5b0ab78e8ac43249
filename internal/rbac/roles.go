package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// RoleService owns role template lifecycle, user-role assignment and the
// hierarchy/tier enforcement around both.
type RoleService struct {
	repo     Repository
	tiers    FirmTierLookup
	catalog  RoleCatalog
	audit    AuditSink
	cache    Invalidator
	logger   *slog.Logger
	validate *validator.Validate
}

// NewRoleService constructs the service. Audit sink and invalidator may be
// nil; the tier lookup is required for custom-role creation.
func NewRoleService(repo Repository, tiers FirmTierLookup, catalog RoleCatalog, audit AuditSink, cache Invalidator, logger *slog.Logger) *RoleService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleService{
		repo:     repo,
		tiers:    tiers,
		catalog:  catalog,
		audit:    audit,
		cache:    cache,
		logger:   logger,
		validate: validator.New(),
	}
}

// ListRoles returns system and/or firm-scoped roles ordered by hierarchy
// level, display order, then code, each carrying its permission set.
func (s *RoleService) ListRoles(ctx context.Context, firmID *int64, includeSystem, activeOnly bool) ([]RoleTemplate, error) {
	return s.repo.ListRoles(ctx, RoleFilter{FirmID: firmID, IncludeSystem: includeSystem, ActiveOnly: activeOnly})
}

// GetRole fetches one role with its permission set.
func (s *RoleService) GetRole(ctx context.Context, id int64) (*RoleTemplate, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newError(KindNotFound, CodeRoleNotFound, "role does not exist", strconv.FormatInt(id, 10))
		}
		return nil, err
	}
	return role, nil
}

// CreateRoleRequest describes a firm-scoped custom role.
type CreateRoleRequest struct {
	FirmID       *int64
	PartnerID    *int64
	ParentRoleID *int64
	Code         string `validate:"required,min=2,max=64"`
	Name         string `validate:"required"`
	Description  string
	Permissions  []string `validate:"required,min=1,dive,required"`
	DisplayOrder int
	CreatedBy    int64 `validate:"required"`
}

// CreateCustomRole persists a firm-scoped role at firm hierarchy level with
// the requested permission grants. Nothing is written when any check fails.
func (s *RoleService) CreateCustomRole(ctx context.Context, req CreateRoleRequest) (*RoleTemplate, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, newError(KindValidation, CodeInvalidRequest, "invalid role request", err.Error())
	}
	if req.FirmID == nil {
		return nil, newError(KindValidation, CodeFirmContextRequired, "custom roles require a firm context")
	}
	if existing, err := s.repo.GetRoleByCode(ctx, req.Code, req.FirmID); err == nil && existing != nil {
		return nil, newError(KindConflict, CodeDuplicateRoleCode, "role code already exists in this firm", req.Code)
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	perms, err := s.resolveGrantablePermissions(ctx, *req.FirmID, req.Permissions)
	if err != nil {
		return nil, err
	}

	role := RoleTemplate{
		Code:           req.Code,
		Name:           req.Name,
		Description:    req.Description,
		HierarchyLevel: HierarchyFirm,
		FirmID:         req.FirmID,
		PartnerID:      req.PartnerID,
		ParentRoleID:   req.ParentRoleID,
		IsSystem:       false,
		IsActive:       true,
		IsAssignable:   true,
		DisplayOrder:   req.DisplayOrder,
	}
	permIDs := permissionIDs(perms)
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		id, err := repo.CreateRole(ctx, role)
		if err != nil {
			return err
		}
		role.ID = id
		return repo.ReplaceRolePermissions(ctx, id, permIDs)
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, newError(KindConflict, CodeDuplicateRoleCode, "role code already exists in this firm", req.Code)
		}
		return nil, fmt.Errorf("create custom role: %w", err)
	}
	role.Permissions = permissionCodes(perms)

	s.invalidateFirm(ctx, *req.FirmID)
	event := NewAuditEvent(req.CreatedBy, AuditRoleCreated, "role", strconv.FormatInt(role.ID, 10))
	event.After = role.Permissions
	recordAudit(ctx, s.audit, s.logger, event)
	return &role, nil
}

// UpdateRolePermissions transactionally replaces the entire permission set
// of a custom role: delete then insert, never partial.
func (s *RoleService) UpdateRolePermissions(ctx context.Context, actorID, roleID int64, firmID *int64, codes []string) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return newError(KindConflict, CodeSystemRoleImmutable, "system roles cannot be modified", role.Code)
	}
	if err := guardFirmScope(role, firmID); err != nil {
		return err
	}
	if role.FirmID == nil {
		return newError(KindValidation, CodeFirmContextRequired, "custom roles require a firm context")
	}

	perms, err := s.resolveGrantablePermissions(ctx, *role.FirmID, codes)
	if err != nil {
		return err
	}
	before := role.Permissions
	permIDs := permissionIDs(perms)
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.ReplaceRolePermissions(ctx, roleID, permIDs)
	})
	if err != nil {
		return fmt.Errorf("update role permissions: %w", err)
	}

	s.invalidateFirm(ctx, *role.FirmID)
	event := NewAuditEvent(actorID, AuditRoleUpdated, "role", strconv.FormatInt(roleID, 10))
	event.Before = before
	event.After = permissionCodes(perms)
	recordAudit(ctx, s.audit, s.logger, event)
	return nil
}

// DeleteRole removes a custom role that has no active assignments.
func (s *RoleService) DeleteRole(ctx context.Context, actorID, roleID int64, firmID *int64) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return newError(KindConflict, CodeSystemRoleImmutable, "system roles cannot be deleted", role.Code)
	}
	if err := guardFirmScope(role, firmID); err != nil {
		return err
	}
	active, err := s.repo.CountActiveAssignments(ctx, roleID)
	if err != nil {
		return err
	}
	if active > 0 {
		return newError(KindConflict, CodeRoleInUse, "role has active assignments", strconv.Itoa(active))
	}
	if err := s.repo.DeleteRole(ctx, roleID); err != nil {
		return err
	}

	if role.FirmID != nil {
		s.invalidateFirm(ctx, *role.FirmID)
	}
	event := NewAuditEvent(actorID, AuditRoleDeleted, "role", strconv.FormatInt(roleID, 10))
	event.Before = role.Permissions
	recordAudit(ctx, s.audit, s.logger, event)
	return nil
}

// AssignRequest describes a user-role assignment.
type AssignRequest struct {
	UserID                 int64 `validate:"required"`
	RoleID                 int64 `validate:"required"`
	AssignedBy             int64 `validate:"required"`
	AssignerHierarchyLevel int   `validate:"required"`
	IsPrimary              bool
	ExpiresAt              *time.Time
	Notes                  *string
}

// AssignRole grants a role to a user. The privilege-escalation boundary: an
// actor may never assign a role more senior (numerically lower) than their
// own hierarchy level. When the assignment is primary, every other primary
// flag for the user is cleared in the same transaction.
func (s *RoleService) AssignRole(ctx context.Context, req AssignRequest) (int64, error) {
	if err := s.validate.Struct(req); err != nil {
		return 0, newError(KindValidation, CodeInvalidRequest, "invalid assignment request", err.Error())
	}
	role, err := s.GetRole(ctx, req.RoleID)
	if err != nil {
		return 0, err
	}
	if role.HierarchyLevel < req.AssignerHierarchyLevel {
		return 0, newError(KindPolicy, CodeHierarchyViolation,
			"cannot assign a role more senior than your own", role.Code)
	}

	assignment := UserRoleAssignment{
		UserID:     req.UserID,
		RoleID:     req.RoleID,
		IsPrimary:  req.IsPrimary,
		AssignedBy: req.AssignedBy,
		ExpiresAt:  req.ExpiresAt,
		Notes:      req.Notes,
	}
	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if req.IsPrimary {
			if err := repo.ClearPrimaryAssignments(ctx, req.UserID); err != nil {
				return err
			}
		}
		var err error
		id, err = repo.UpsertAssignment(ctx, assignment)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("assign role: %w", err)
	}

	s.invalidateUser(ctx, req.UserID)
	event := NewAuditEvent(req.AssignedBy, AuditRoleAssigned, "user", strconv.FormatInt(req.UserID, 10))
	event.After = role.Permissions
	recordAudit(ctx, s.audit, s.logger, event)
	return id, nil
}

// RemoveRole revokes a user's role assignment.
func (s *RoleService) RemoveRole(ctx context.Context, actorID, userID, roleID int64) error {
	deleted, err := s.repo.DeleteAssignment(ctx, userID, roleID)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return newError(KindNotFound, CodeAssignmentNotFound, "assignment does not exist",
			fmt.Sprintf("user=%d role=%d", userID, roleID))
	}
	s.invalidateUser(ctx, userID)
	event := NewAuditEvent(actorID, AuditRoleRemoved, "user", strconv.FormatInt(userID, 10))
	recordAudit(ctx, s.audit, s.logger, event)
	return nil
}

// ListAssignments returns every assignment held by a user.
func (s *RoleService) ListAssignments(ctx context.Context, userID int64) ([]UserRoleAssignment, error) {
	return s.repo.ListAssignments(ctx, userID)
}

// SeedSystemRoles upserts each catalog role and replaces its permission set
// from the compiled role→permission map. Idempotent. Permissions must be
// seeded first.
func (s *RoleService) SeedSystemRoles(ctx context.Context, actorID int64) (int, error) {
	seeded := 0
	for _, spec := range s.catalog.Roles {
		perms, err := s.repo.GetPermissionsByCodes(ctx, spec.Permissions)
		if err != nil {
			return seeded, fmt.Errorf("seed role %s: %w", spec.Code, err)
		}
		if missing := missingCodes(spec.Permissions, perms); len(missing) > 0 {
			return seeded, newError(KindValidation, CodeUnknownPermission,
				"role catalog references uncataloged permissions", missing...)
		}
		permIDs := permissionIDs(perms)
		err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			role, err := repo.GetRoleByCode(ctx, spec.Code, nil)
			if errors.Is(err, ErrNotFound) {
				id, err := repo.CreateRole(ctx, RoleTemplate{
					Code:           spec.Code,
					Name:           spec.Name,
					Description:    spec.Description,
					HierarchyLevel: spec.HierarchyLevel,
					IsSystem:       true,
					IsActive:       true,
					IsAssignable:   true,
					DisplayOrder:   spec.DisplayOrder,
				})
				if err != nil {
					return err
				}
				return repo.ReplaceRolePermissions(ctx, id, permIDs)
			}
			if err != nil {
				return err
			}
			return repo.ReplaceRolePermissions(ctx, role.ID, permIDs)
		})
		if err != nil {
			return seeded, fmt.Errorf("seed role %s: %w", spec.Code, err)
		}
		seeded++
	}
	event := NewAuditEvent(actorID, AuditRolesSeeded, "role_catalog", s.catalog.Version)
	recordAudit(ctx, s.audit, s.logger, event)
	s.logger.Info("seeded system roles",
		slog.Int("count", seeded), slog.String("catalog_version", s.catalog.Version))
	return seeded, nil
}

// resolveGrantablePermissions maps permission codes to rows, rejecting
// unknown codes and any code whose tier restriction excludes the firm's
// current subscription tier.
func (s *RoleService) resolveGrantablePermissions(ctx context.Context, firmID int64, codes []string) ([]Permission, error) {
	perms, err := s.repo.GetPermissionsByCodes(ctx, codes)
	if err != nil {
		return nil, err
	}
	if missing := missingCodes(codes, perms); len(missing) > 0 {
		return nil, newError(KindValidation, CodeUnknownPermission, "unrecognized permission codes", missing...)
	}

	tier, err := s.tiers.FirmTier(ctx, firmID)
	if err != nil {
		return nil, fmt.Errorf("lookup firm tier: %w", err)
	}
	var restricted []string
	for _, perm := range perms {
		if !TierAllowed(perm.TierRestriction, tier) {
			restricted = append(restricted, perm.Code)
		}
	}
	if len(restricted) > 0 {
		return nil, newError(KindPolicy, CodeTierRestricted,
			fmt.Sprintf("permissions unavailable on the %s tier", tier), restricted...)
	}
	return perms, nil
}

func (s *RoleService) invalidateUser(ctx context.Context, userID int64) {
	if s.cache != nil {
		s.cache.InvalidateUser(ctx, userID)
	}
	if _, err := s.repo.BumpCacheVersion(ctx, ScopeUser, strconv.FormatInt(userID, 10)); err != nil {
		s.logger.Warn("bump user cache version", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func (s *RoleService) invalidateFirm(ctx context.Context, firmID int64) {
	if s.cache != nil {
		s.cache.InvalidateFirm(ctx, firmID)
	}
	if _, err := s.repo.BumpCacheVersion(ctx, ScopeFirm, strconv.FormatInt(firmID, 10)); err != nil {
		s.logger.Warn("bump firm cache version", slog.Int64("firm_id", firmID), slog.Any("error", err))
	}
}

// guardFirmScope rejects access to a role from outside its owning firm.
func guardFirmScope(role *RoleTemplate, firmID *int64) error {
	if role.FirmID == nil {
		return nil
	}
	if firmID == nil || *firmID != *role.FirmID {
		return newError(KindPolicy, CodeCrossFirmAccess, "role belongs to another firm", role.Code)
	}
	return nil
}

func permissionIDs(perms []Permission) []int64 {
	ids := make([]int64, len(perms))
	for i, p := range perms {
		ids[i] = p.ID
	}
	return ids
}

func permissionCodes(perms []Permission) []string {
	codes := make([]string, len(perms))
	for i, p := range perms {
		codes[i] = p.Code
	}
	return codes
}

func missingCodes(requested []string, found []Permission) []string {
	have := make(map[string]struct{}, len(found))
	for _, p := range found {
		have[p.Code] = struct{}{}
	}
	var missing []string
	seen := make(map[string]struct{}, len(requested))
	for _, code := range requested {
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		if _, ok := have[code]; !ok {
			missing = append(missing, code)
		}
	}
	return missing
}
