package rbac

import (
	"context"
	"time"
)

// Resolver computes a principal's effective permission set from roles,
// tier and overrides. It is stateless; memoization lives in the cache layer
// above it.
type Resolver struct {
	repo Repository
	now  func() time.Time
}

// NewResolver constructs a resolver over the gateway.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the resolver clock. Test hook.
func (r *Resolver) SetClock(now func() time.Time) { r.now = now }

// Resolve evaluates the general capability set fresh:
//
//  1. Platform administrators hold every enabled permission.
//  2. Collect the principal's unexpired role assignments.
//  3. Union the permission sets of those roles.
//  4. Drop permissions whose tier restriction excludes the principal's
//     subscription tier. Tier enforcement happens only here, so a tier
//     downgrade narrows effective permissions without editing any role.
//  5. Apply unexpired general overrides in ascending creation order:
//     grants add the permission even when a tier restriction would exclude
//     it, revokes remove it.
//
// Resource-scoped overrides are excluded; they apply only to checks naming
// that resource.
func (r *Resolver) Resolve(ctx context.Context, principal Principal) (PermissionSet, error) {
	if principal.IsPlatformAdmin {
		return r.allPermissions(ctx)
	}
	now := r.now()

	assignments, err := r.repo.ListAssignments(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	var roleIDs []int64
	for _, a := range assignments {
		if a.Active(now) {
			roleIDs = append(roleIDs, a.RoleID)
		}
	}

	set := make(PermissionSet)
	if len(roleIDs) > 0 {
		perms, err := r.repo.PermissionsForRoles(ctx, roleIDs)
		if err != nil {
			return nil, err
		}
		for _, perm := range perms {
			if !perm.IsEnabled {
				continue
			}
			if !TierAllowed(perm.TierRestriction, principal.Tier) {
				continue
			}
			set.Add(perm.Code)
		}
	}

	overrides, err := r.repo.ListOverrides(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		if o.ResourceScoped() || !o.Active(now) {
			continue
		}
		switch o.Action {
		case OverrideGrant:
			set.Add(o.PermissionCode)
		case OverrideRevoke:
			set.Remove(o.PermissionCode)
		}
	}
	return set, nil
}

// ResolveResource decides a single check against a named resource. The
// latest unexpired override matching the (permission, resource) pair wins;
// when none exists the decision falls back to the general set.
//
// The returned decided flag is false when no resource override applied.
func (r *Resolver) ResolveResource(ctx context.Context, principal Principal, code string, res ResourceRef) (allowed, decided bool, err error) {
	overrides, err := r.repo.ListOverrides(ctx, principal.UserID)
	if err != nil {
		return false, false, err
	}
	now := r.now()
	// Overrides arrive in ascending creation order; the last match wins.
	for _, o := range overrides {
		if !o.Active(now) || !o.Matches(code, res) {
			continue
		}
		decided = true
		allowed = o.Action == OverrideGrant
	}
	return allowed, decided, nil
}

func (r *Resolver) allPermissions(ctx context.Context) (PermissionSet, error) {
	perms, err := r.repo.ListPermissions(ctx, "", true)
	if err != nil {
		return nil, err
	}
	set := make(PermissionSet, len(perms))
	for _, perm := range perms {
		set.Add(perm.Code)
	}
	return set, nil
}
