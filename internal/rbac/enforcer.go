package rbac

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
)

// Decision is the outcome of one permission check, with enough context for
// middleware logging.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
	CacheHit  bool      `json:"cache_hit"`
}

// stampedCache is satisfied by caches whose entries carry invalidation
// stamps; the enforcer captures the stamp before resolving.
type stampedCache interface {
	Stamp(ctx context.Context, principal Principal) (CacheStamp, bool)
	SetUserAt(ctx context.Context, principal Principal, set PermissionSet, stamp CacheStamp)
}

// Enforcer is the caller-facing boundary. ResolvePermissions and
// HasPermission are the only two entry points authorization middleware
// needs; everything behind them is internal. Any error means deny; the
// engine never fails open.
type Enforcer struct {
	resolver *Resolver
	cache    Cache
	logger   *slog.Logger
	group    singleflight.Group
}

// NewEnforcer constructs the boundary. Cache may be nil, in which case every
// check resolves fresh.
func NewEnforcer(resolver *Resolver, cache Cache, logger *slog.Logger) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{resolver: resolver, cache: cache, logger: logger}
}

// ResolvePermissions returns the principal's effective permission set,
// served from cache when current. Concurrent misses for the same user
// collapse into one resolver pass.
func (e *Enforcer) ResolvePermissions(ctx context.Context, principal Principal) (PermissionSet, error) {
	set, _, err := e.resolve(ctx, principal)
	return set, err
}

// HasPermission reports whether the principal holds the named capability.
// A resource-scoped check consults the principal's overrides for that exact
// resource first; those are evaluated fresh on every check so a resource
// revoke is never subject to cache staleness.
func (e *Enforcer) HasPermission(ctx context.Context, principal Principal, code string, resource *ResourceRef) (bool, error) {
	decision, err := e.Check(ctx, principal, code, resource)
	if err != nil {
		return false, err
	}
	return decision.Allowed, nil
}

// Check is HasPermission with an explainable decision.
func (e *Enforcer) Check(ctx context.Context, principal Principal, code string, resource *ResourceRef) (Decision, error) {
	decision := Decision{CheckedAt: time.Now().UTC()}
	if principal.IsPlatformAdmin {
		decision.Allowed = true
		decision.Reason = "platform administrator"
		return decision, nil
	}

	if resource != nil {
		allowed, decided, err := e.resolver.ResolveResource(ctx, principal, code, *resource)
		if err != nil {
			return Decision{CheckedAt: decision.CheckedAt}, err
		}
		if decided {
			decision.Allowed = allowed
			if allowed {
				decision.Reason = "resource override grant"
			} else {
				decision.Reason = "resource override revoke"
			}
			return decision, nil
		}
	}

	set, cacheHit, err := e.resolve(ctx, principal)
	if err != nil {
		return Decision{CheckedAt: decision.CheckedAt}, err
	}
	decision.CacheHit = cacheHit
	decision.Allowed = set.Has(code)
	if decision.Allowed {
		decision.Reason = "granted by effective permission set"
	} else {
		decision.Reason = "not in effective permission set"
	}
	return decision, nil
}

func (e *Enforcer) resolve(ctx context.Context, principal Principal) (PermissionSet, bool, error) {
	if e.cache != nil {
		if set, ok := e.cache.GetUser(ctx, principal); ok {
			return set, true, nil
		}
	}

	value, err, _ := e.group.Do(strconv.FormatInt(principal.UserID, 10), func() (any, error) {
		// Capture the invalidation state before resolving, so a bump that
		// lands while the resolve is in flight invalidates the entry we are
		// about to write.
		stamped, _ := e.cache.(stampedCache)
		var stamp CacheStamp
		var stampOK bool
		if stamped != nil {
			stamp, stampOK = stamped.Stamp(ctx, principal)
		}

		set, err := e.resolver.Resolve(ctx, principal)
		if err != nil {
			return nil, err
		}
		switch {
		case stamped != nil:
			if stampOK {
				stamped.SetUserAt(ctx, principal, set, stamp)
			}
		case e.cache != nil:
			e.cache.SetUser(ctx, principal, set)
		}
		return set, nil
	})
	if err != nil {
		return nil, false, err
	}
	return value.(PermissionSet), false, nil
}
