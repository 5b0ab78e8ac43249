package tenancy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firmdesk/firmdesk/internal/rbac"
)

// Service handles tenancy business logic.
type Service struct {
	repo   RepositoryPort
	cache  rbac.Invalidator
	logger *slog.Logger
}

// NewService builds Service instance. The invalidator may be nil.
func NewService(repo RepositoryPort, cache rbac.Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// CreatePartner registers a partner organisation.
func (s *Service) CreatePartner(ctx context.Context, code, name string) (int64, error) {
	return s.repo.CreatePartner(ctx, Partner{Code: code, Name: name, IsActive: true})
}

// CreateFirm registers a firm under a partner on the given tier.
func (s *Service) CreateFirm(ctx context.Context, partnerID int64, code, name, rawTier string) (int64, error) {
	tier, err := rbac.ParseTier(rawTier)
	if err != nil {
		return 0, err
	}
	return s.repo.CreateFirm(ctx, PartnerFirm{
		PartnerID: partnerID,
		Code:      code,
		Name:      name,
		Tier:      tier,
		IsActive:  true,
	})
}

// GetFirm fetches a firm by id.
func (s *Service) GetFirm(ctx context.Context, id int64) (*PartnerFirm, error) {
	return s.repo.GetFirm(ctx, id)
}

// ListFirms returns all firms under a partner.
func (s *Service) ListFirms(ctx context.Context, partnerID int64) ([]PartnerFirm, error) {
	return s.repo.ListFirms(ctx, partnerID)
}

// ChangeFirmTier moves a firm to a different subscription tier. Effective
// permissions narrow or widen immediately because the resolver applies the
// tier gate centrally, so the firm's cached sets are invalidated here.
func (s *Service) ChangeFirmTier(ctx context.Context, firmID int64, rawTier string) error {
	tier, err := rbac.ParseTier(rawTier)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateFirmTier(ctx, firmID, tier); err != nil {
		return fmt.Errorf("change firm tier: %w", err)
	}
	if s.cache != nil {
		s.cache.InvalidateFirm(ctx, firmID)
	}
	s.logger.Info("firm tier changed", slog.Int64("firm_id", firmID), slog.String("tier", string(tier)))
	return nil
}

// GrantClientAccess exposes one client record to a user.
func (s *Service) GrantClientAccess(ctx context.Context, grant ClientAccessGrant) (int64, error) {
	id, err := s.repo.CreateAccessGrant(ctx, grant)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		s.cache.InvalidateUser(ctx, grant.UserID)
	}
	return id, nil
}

// ListClientAccess returns a user's client access grants.
func (s *Service) ListClientAccess(ctx context.Context, userID int64) ([]ClientAccessGrant, error) {
	return s.repo.ListAccessGrants(ctx, userID)
}
