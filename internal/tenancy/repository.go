package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/firmdesk/firmdesk/internal/rbac"
)

// ErrNotFound indicates a missing tenancy record.
var ErrNotFound = errors.New("tenancy: not found")

// RepositoryPort defines data access for tenancy containers.
type RepositoryPort interface {
	CreatePartner(ctx context.Context, partner Partner) (int64, error)
	CreateFirm(ctx context.Context, firm PartnerFirm) (int64, error)
	GetFirm(ctx context.Context, id int64) (*PartnerFirm, error)
	ListFirms(ctx context.Context, partnerID int64) ([]PartnerFirm, error)
	UpdateFirmTier(ctx context.Context, firmID int64, tier rbac.Tier) error
	FirmTier(ctx context.Context, firmID int64) (rbac.Tier, error)
	CreateAccessGrant(ctx context.Context, grant ClientAccessGrant) (int64, error)
	ListAccessGrants(ctx context.Context, userID int64) ([]ClientAccessGrant, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var (
	_ RepositoryPort      = (*Repository)(nil)
	_ rbac.FirmTierLookup = (*Repository)(nil)
)

// Migrate creates the tenancy tables idempotently.
func (r *Repository) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS partners (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS partner_firms (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			partner_id BIGINT NOT NULL REFERENCES partners(id),
			code TEXT NOT NULL,
			name TEXT NOT NULL,
			subscription_tier TEXT NOT NULL DEFAULT 'starter',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (partner_id, code)
		)`,
		`CREATE TABLE IF NOT EXISTS partner_admins (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			partner_id BIGINT NOT NULL REFERENCES partners(id),
			user_id BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (partner_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS client_access_grants (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			firm_id BIGINT NOT NULL REFERENCES partner_firms(id),
			client_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			granted_by BIGINT NOT NULL,
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (firm_id, client_id, user_id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("tenancy: migrate: %w", err)
		}
	}
	return nil
}

// CreatePartner inserts a partner organisation.
func (r *Repository) CreatePartner(ctx context.Context, partner Partner) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO partners (code, name, is_active) VALUES ($1, $2, $3) RETURNING id`,
		partner.Code, partner.Name, partner.IsActive).Scan(&id)
	return id, err
}

// CreateFirm inserts a firm under a partner.
func (r *Repository) CreateFirm(ctx context.Context, firm PartnerFirm) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO partner_firms (partner_id, code, name, subscription_tier, is_active)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		firm.PartnerID, firm.Code, firm.Name, string(firm.Tier), firm.IsActive).Scan(&id)
	return id, err
}

// GetFirm fetches a firm by id.
func (r *Repository) GetFirm(ctx context.Context, id int64) (*PartnerFirm, error) {
	var firm PartnerFirm
	var tier string
	err := r.pool.QueryRow(ctx,
		`SELECT id, partner_id, code, name, subscription_tier, is_active, created_at, updated_at
		 FROM partner_firms WHERE id = $1`, id).
		Scan(&firm.ID, &firm.PartnerID, &firm.Code, &firm.Name, &tier, &firm.IsActive, &firm.CreatedAt, &firm.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	firm.Tier = rbac.Tier(tier)
	return &firm, nil
}

// ListFirms returns all firms under a partner.
func (r *Repository) ListFirms(ctx context.Context, partnerID int64) ([]PartnerFirm, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, partner_id, code, name, subscription_tier, is_active, created_at, updated_at
		 FROM partner_firms WHERE partner_id = $1 ORDER BY code`, partnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var firms []PartnerFirm
	for rows.Next() {
		var firm PartnerFirm
		var tier string
		if err := rows.Scan(&firm.ID, &firm.PartnerID, &firm.Code, &firm.Name, &tier, &firm.IsActive, &firm.CreatedAt, &firm.UpdatedAt); err != nil {
			return nil, err
		}
		firm.Tier = rbac.Tier(tier)
		firms = append(firms, firm)
	}
	return firms, rows.Err()
}

// UpdateFirmTier changes a firm's subscription tier.
func (r *Repository) UpdateFirmTier(ctx context.Context, firmID int64, tier rbac.Tier) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE partner_firms SET subscription_tier = $2, updated_at = NOW() WHERE id = $1`,
		firmID, string(tier))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FirmTier resolves a firm's current subscription tier.
func (r *Repository) FirmTier(ctx context.Context, firmID int64) (rbac.Tier, error) {
	var tier string
	err := r.pool.QueryRow(ctx,
		`SELECT subscription_tier FROM partner_firms WHERE id = $1`, firmID).Scan(&tier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return rbac.Tier(tier), nil
}

// CreateAccessGrant inserts a client access grant, upserting on the
// natural key so repeated grants refresh expiry instead of duplicating.
func (r *Repository) CreateAccessGrant(ctx context.Context, grant ClientAccessGrant) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO client_access_grants (firm_id, client_id, user_id, granted_by, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (firm_id, client_id, user_id) DO UPDATE SET
			granted_by = EXCLUDED.granted_by,
			expires_at = EXCLUDED.expires_at
		 RETURNING id`,
		grant.FirmID, grant.ClientID, grant.UserID, grant.GrantedBy, grant.ExpiresAt).Scan(&id)
	return id, err
}

// ListAccessGrants returns a user's client access grants.
func (r *Repository) ListAccessGrants(ctx context.Context, userID int64) ([]ClientAccessGrant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, firm_id, client_id, user_id, granted_by, expires_at, created_at
		 FROM client_access_grants WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []ClientAccessGrant
	for rows.Next() {
		var g ClientAccessGrant
		if err := rows.Scan(&g.ID, &g.FirmID, &g.ClientID, &g.UserID, &g.GrantedBy, &g.ExpiresAt, &g.CreatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
