package tenancy

import (
	"time"

	"github.com/firmdesk/firmdesk/internal/rbac"
)

// Partner is a reseller organisation owning one or more firms.
type Partner struct {
	ID        int64
	Code      string
	Name      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PartnerFirm is a tenant firm under a partner. Its subscription tier gates
// which permissions the firm's roles may carry.
type PartnerFirm struct {
	ID        int64
	PartnerID int64
	Code      string
	Name      string
	Tier      rbac.Tier
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PartnerAdmin links a user to a partner with partner-level seniority.
type PartnerAdmin struct {
	ID        int64
	PartnerID int64
	UserID    int64
	CreatedAt time.Time
}

// ClientAccessGrant exposes one client record to a user, typically a
// client-side viewer. Lifecycle details live outside the engine core.
type ClientAccessGrant struct {
	ID        int64
	FirmID    int64
	ClientID  int64
	UserID    int64
	GrantedBy int64
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Active reports whether the grant is unexpired at the given instant.
func (g ClientAccessGrant) Active(now time.Time) bool {
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}
