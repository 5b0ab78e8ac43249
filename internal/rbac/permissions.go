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

// PermissionService owns catalog sync and per-user override CRUD.
type PermissionService struct {
	repo     Repository
	catalog  PermissionCatalog
	audit    AuditSink
	cache    Invalidator
	logger   *slog.Logger
	validate *validator.Validate
}

// NewPermissionService constructs the service. Audit sink and invalidator
// may be nil.
func NewPermissionService(repo Repository, catalog PermissionCatalog, audit AuditSink, cache Invalidator, logger *slog.Logger) *PermissionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionService{
		repo:     repo,
		catalog:  catalog,
		audit:    audit,
		cache:    cache,
		logger:   logger,
		validate: validator.New(),
	}
}

// SeedSystemPermissions upserts every catalog permission by code, deriving
// hierarchy level and tier restriction from the category. Idempotent:
// re-running converges to the same rows.
func (s *PermissionService) SeedSystemPermissions(ctx context.Context, actorID int64) (int, error) {
	seeded := 0
	for _, spec := range s.catalog.Permissions {
		minLevel, restriction := CategoryPolicy(spec.Category)
		_, err := s.repo.UpsertPermission(ctx, Permission{
			Code:              spec.Code,
			Name:              spec.Name,
			Description:       spec.Description,
			Category:          spec.Category,
			MinHierarchyLevel: minLevel,
			TierRestriction:   restriction,
			IsEnabled:         true,
			IsSystem:          true,
		})
		if err != nil {
			return seeded, fmt.Errorf("seed permission %s: %w", spec.Code, err)
		}
		seeded++
	}
	event := NewAuditEvent(actorID, AuditPermissionsSeeded, "permission_catalog", s.catalog.Version)
	recordAudit(ctx, s.audit, s.logger, event)
	s.logger.Info("seeded system permissions",
		slog.Int("count", seeded), slog.String("catalog_version", s.catalog.Version))
	return seeded, nil
}

// ListPermissions returns the cataloged permissions ordered by code,
// optionally narrowed to a category and to enabled rows.
func (s *PermissionService) ListPermissions(ctx context.Context, category string, enabledOnly bool) ([]Permission, error) {
	return s.repo.ListPermissions(ctx, category, enabledOnly)
}

// GetPermissionByCode is an exact lookup.
func (s *PermissionService) GetPermissionByCode(ctx context.Context, code string) (*Permission, error) {
	perm, err := s.repo.GetPermissionByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newError(KindNotFound, CodeUnknownPermission, "permission is not cataloged", code)
		}
		return nil, err
	}
	return perm, nil
}

// OverrideRequest describes a per-user permission exception.
type OverrideRequest struct {
	UserID         int64          `validate:"required"`
	PermissionCode string         `validate:"required"`
	ResourceType   *string        `validate:"omitempty,min=1"`
	ResourceID     *string        `validate:"omitempty,min=1"`
	Action         OverrideAction `validate:"required,oneof=grant revoke"`
	ExpiresAt      *time.Time
	Reason         string
	CreatedBy      int64 `validate:"required"`
}

// CreateOverride upserts an override by its natural key, overwriting
// action, expiry, reason and creator. Fails if the permission code is not
// cataloged.
func (s *PermissionService) CreateOverride(ctx context.Context, req OverrideRequest) (int64, error) {
	if err := s.validate.Struct(req); err != nil {
		return 0, newError(KindValidation, CodeInvalidRequest, "invalid override request", err.Error())
	}
	perm, err := s.repo.GetPermissionByCode(ctx, req.PermissionCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, newError(KindValidation, CodeUnknownPermission, "permission is not cataloged", req.PermissionCode)
		}
		return 0, err
	}

	id, err := s.repo.UpsertOverride(ctx, UserPermissionOverride{
		UserID:       req.UserID,
		PermissionID: perm.ID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Action:       req.Action,
		ExpiresAt:    req.ExpiresAt,
		Reason:       req.Reason,
		CreatedBy:    req.CreatedBy,
	})
	if err != nil {
		return 0, err
	}

	s.invalidateUser(ctx, req.UserID)
	event := NewAuditEvent(req.CreatedBy, AuditOverrideUpserted, "user", strconv.FormatInt(req.UserID, 10))
	event.After = []string{string(req.Action) + ":" + req.PermissionCode}
	recordAudit(ctx, s.audit, s.logger, event)
	return id, nil
}

// ListOverrides returns all overrides for a user in creation order.
func (s *PermissionService) ListOverrides(ctx context.Context, userID int64) ([]UserPermissionOverride, error) {
	return s.repo.ListOverrides(ctx, userID)
}

// RemoveOverride deletes one override owned by the user.
func (s *PermissionService) RemoveOverride(ctx context.Context, actorID, userID, overrideID int64) error {
	deleted, err := s.repo.DeleteOverride(ctx, userID, overrideID)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return newError(KindNotFound, CodeOverrideNotFound, "override does not exist",
			strconv.FormatInt(overrideID, 10))
	}
	s.invalidateUser(ctx, userID)
	event := NewAuditEvent(actorID, AuditOverrideRemoved, "user", strconv.FormatInt(userID, 10))
	recordAudit(ctx, s.audit, s.logger, event)
	return nil
}

func (s *PermissionService) invalidateUser(ctx context.Context, userID int64) {
	if s.cache != nil {
		s.cache.InvalidateUser(ctx, userID)
	}
	if _, err := s.repo.BumpCacheVersion(ctx, ScopeUser, strconv.FormatInt(userID, 10)); err != nil {
		s.logger.Warn("bump user cache version", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}
