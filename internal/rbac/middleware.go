package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
)

type principalContextKey struct{}

// ContextWithPrincipal stores the authenticated principal in the context.
// The hosting application's authentication layer populates it.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext extracts the principal placed by the auth layer.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(Principal)
	return principal, ok
}

// PrincipalFromHeaders builds the request principal from the identity
// headers the hosting gateway sets after authentication. Requests without a
// valid X-Actor-Id proceed without a principal and are denied by the guards.
func PrincipalFromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.Header.Get("X-Actor-Id"), 10, 64)
		if err != nil || userID <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		principal := Principal{
			UserID:          userID,
			Tier:            Tier(r.Header.Get("X-Actor-Tier")),
			IsPlatformAdmin: r.Header.Get("X-Actor-Platform-Admin") == "true",
		}
		if v, err := strconv.ParseInt(r.Header.Get("X-Actor-Firm-Id"), 10, 64); err == nil {
			principal.FirmID = &v
		}
		if v, err := strconv.ParseInt(r.Header.Get("X-Actor-Partner-Id"), 10, 64); err == nil {
			principal.PartnerID = &v
		}
		if v, err := strconv.Atoi(r.Header.Get("X-Actor-Hierarchy-Level")); err == nil {
			principal.HierarchyLevel = v
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
	})
}

// Middleware wires authorization guards for HTTP handlers.
type Middleware struct {
	Enforcer *Enforcer
	Logger   *slog.Logger
}

// RequirePermission ensures the current principal holds the permission.
// Missing principal, resolution failure and missing grant all deny.
func (m Middleware) RequirePermission(code string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			allowed, err := m.Enforcer.HasPermission(r.Context(), principal, code, nil)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("require permission", slog.String("code", code), slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			if !allowed {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny ensures the current principal holds at least one of the
// permissions.
func (m Middleware) RequireAny(codes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(codes) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			set, err := m.Enforcer.ResolvePermissions(r.Context(), principal)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("require any permission", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			for _, code := range codes {
				if set.Has(code) {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}
