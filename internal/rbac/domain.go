package rbac

import (
	"sort"
	"time"
)

// Tier identifies a firm subscription plan. Tiers are ordered: a higher
// rank unlocks everything a lower rank does.
type Tier string

const (
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

var tierRanks = map[Tier]int{
	TierStarter:      0,
	TierProfessional: 1,
	TierEnterprise:   2,
}

// Rank returns the numeric ordering of the tier. Unknown tiers rank below
// starter so a malformed tier never unlocks anything.
func (t Tier) Rank() int {
	if rank, ok := tierRanks[t]; ok {
		return rank
	}
	return -1
}

// Valid reports whether the tier is one of the known plans.
func (t Tier) Valid() bool {
	_, ok := tierRanks[t]
	return ok
}

// ParseTier validates a raw tier string.
func ParseTier(raw string) (Tier, error) {
	t := Tier(raw)
	if !t.Valid() {
		return "", newError(KindValidation, CodeMalformedTier, "unknown subscription tier", raw)
	}
	return t, nil
}

// TierAllowed reports whether a subscription tier satisfies a permission's
// tier restriction. An empty restriction admits every tier; otherwise the
// tier must rank at least as high as the cheapest restricted tier.
func TierAllowed(restriction []Tier, tier Tier) bool {
	if len(restriction) == 0 {
		return true
	}
	min := -1
	for _, r := range restriction {
		rank := r.Rank()
		if rank < 0 {
			continue
		}
		if min < 0 || rank < min {
			min = rank
		}
	}
	if min < 0 {
		return true
	}
	return tier.Rank() >= min
}

// Hierarchy levels rank seniority across the tenancy chain. Lower values
// are more senior; an actor may only grant roles at or below their own level.
const (
	HierarchyPlatform = 10
	HierarchyPartner  = 20
	HierarchyFirm     = 30
	HierarchyUser     = 40
	HierarchyResource = 50
)

// Permission is an atomic, named capability. Codes are globally unique and
// immutable once seeded; every other field may be updated by catalog sync.
type Permission struct {
	ID                int64
	Code              string
	Name              string
	Description       string
	Category          string
	MinHierarchyLevel int
	TierRestriction   []Tier
	IsEnabled         bool
	IsSystem          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RoleTemplate is a reusable permission bundle. System roles have no firm
// or partner scope and are immutable; custom roles belong to exactly one firm.
type RoleTemplate struct {
	ID             int64
	Code           string
	Name           string
	Description    string
	HierarchyLevel int
	FirmID         *int64
	PartnerID      *int64
	// ParentRoleID is a documentary lookup link only; the resolver never
	// merges parent permissions.
	ParentRoleID *int64
	IsSystem     bool
	IsActive     bool
	IsAssignable bool
	DisplayOrder int
	Permissions  []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RolePermission joins a role to a granted permission.
type RolePermission struct {
	RoleID       int64
	PermissionID int64
	CreatedAt    time.Time
}

// UserRoleAssignment links a user to a role. At most one assignment per
// user carries IsPrimary at any time.
type UserRoleAssignment struct {
	ID         int64
	UserID     int64
	RoleID     int64
	IsPrimary  bool
	AssignedBy int64
	AssignedAt time.Time
	ExpiresAt  *time.Time
	Notes      *string
}

// Active reports whether the assignment is unexpired at the given instant.
func (a UserRoleAssignment) Active(now time.Time) bool {
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// OverrideAction is the effect of a per-user permission exception.
type OverrideAction string

const (
	OverrideGrant  OverrideAction = "grant"
	OverrideRevoke OverrideAction = "revoke"
)

// UserPermissionOverride is a per-user exception to role-derived grants.
// The natural key (user, permission, resource type, resource id) is unique;
// writes upsert, never duplicate.
type UserPermissionOverride struct {
	ID             int64
	UserID         int64
	PermissionID   int64
	PermissionCode string
	ResourceType   *string
	ResourceID     *string
	Action         OverrideAction
	ExpiresAt      *time.Time
	Reason         string
	CreatedBy      int64
	CreatedAt      time.Time
}

// Active reports whether the override is unexpired at the given instant.
func (o UserPermissionOverride) Active(now time.Time) bool {
	return o.ExpiresAt == nil || o.ExpiresAt.After(now)
}

// ResourceScoped reports whether the override targets a specific resource.
// Resource-scoped overrides only apply to checks naming that resource.
func (o UserPermissionOverride) ResourceScoped() bool {
	return o.ResourceType != nil && *o.ResourceType != ""
}

// ResourceRef names the target of a resource-scoped permission check.
type ResourceRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Matches reports whether the override targets the given resource.
func (o UserPermissionOverride) Matches(code string, res ResourceRef) bool {
	if o.PermissionCode != code || !o.ResourceScoped() {
		return false
	}
	if *o.ResourceType != res.Type {
		return false
	}
	return o.ResourceID == nil || *o.ResourceID == "" || *o.ResourceID == res.ID
}

// CacheScope partitions permission-cache version counters.
type CacheScope string

const (
	ScopeGlobal CacheScope = "global"
	ScopeFirm   CacheScope = "firm"
	ScopeUser   CacheScope = "user"
)

// CacheVersion is a monotonic staleness counter for one invalidation scope.
type CacheVersion struct {
	Scope   CacheScope
	ScopeID string
	Version int64
}

// Principal describes the authenticated actor being evaluated. It is
// supplied by the caller; authentication itself lives outside this engine.
type Principal struct {
	UserID          int64
	FirmID          *int64
	PartnerID       *int64
	Tier            Tier
	HierarchyLevel  int
	IsPlatformAdmin bool
}

// PermissionSet is the effective capability set of a principal.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from permission codes.
func NewPermissionSet(codes ...string) PermissionSet {
	set := make(PermissionSet, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return set
}

// Has reports whether the set contains the permission code.
func (s PermissionSet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

// Add inserts a permission code.
func (s PermissionSet) Add(code string) { s[code] = struct{}{} }

// Remove drops a permission code.
func (s PermissionSet) Remove(code string) { delete(s, code) }

// Codes returns the sorted permission codes in the set.
func (s PermissionSet) Codes() []string {
	codes := make([]string, 0, len(s))
	for code := range s {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Clone returns an independent copy of the set.
func (s PermissionSet) Clone() PermissionSet {
	clone := make(PermissionSet, len(s))
	for code := range s {
		clone[code] = struct{}{}
	}
	return clone
}
