package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiddlewareFixture(t *testing.T) (Middleware, *resolverFixture) {
	t.Helper()
	f := newResolverFixture(t)
	enforcer := NewEnforcer(f.resolver, nil, testLogger())
	return Middleware{Enforcer: enforcer, Logger: testLogger()}, f
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequirePermission(t *testing.T) {
	mw, f := newMiddlewareFixture(t)
	f.assign(t, 7, f.baseID, nil)
	handler := mw.RequirePermission("client.view")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/clients", nil)
	principal := Principal{UserID: 7, Tier: TierEnterprise}
	req = req.WithContext(ContextWithPrincipal(req.Context(), principal))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequirePermissionDenies(t *testing.T) {
	mw, f := newMiddlewareFixture(t)
	f.assign(t, 7, f.baseID, nil)
	handler := mw.RequirePermission("client.export")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/clients/export", nil)
	req = req.WithContext(ContextWithPrincipal(req.Context(), Principal{UserID: 7, Tier: TierStarter}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequirePermissionWithoutPrincipal(t *testing.T) {
	mw, _ := newMiddlewareFixture(t)
	handler := mw.RequirePermission("client.view")(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/clients", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAny(t *testing.T) {
	mw, f := newMiddlewareFixture(t)
	f.assign(t, 7, f.baseID, nil)
	handler := mw.RequireAny("client.export", "client.view")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/clients", nil)
	req = req.WithContext(ContextWithPrincipal(req.Context(), Principal{UserID: 7, Tier: TierStarter}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	denied := mw.RequireAny("client.export", "return.review")(okHandler())
	rec = httptest.NewRecorder()
	denied.ServeHTTP(rec, req.Clone(req.Context()))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPrincipalFromHeaders(t *testing.T) {
	var got Principal
	var ok bool
	handler := PrincipalFromHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Actor-Id", "7")
	req.Header.Set("X-Actor-Firm-Id", "10")
	req.Header.Set("X-Actor-Tier", "professional")
	req.Header.Set("X-Actor-Hierarchy-Level", "30")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, ok)
	assert.Equal(t, int64(7), got.UserID)
	require.NotNil(t, got.FirmID)
	assert.Equal(t, int64(10), *got.FirmID)
	assert.Equal(t, TierProfessional, got.Tier)
	assert.Equal(t, HierarchyFirm, got.HierarchyLevel)
	assert.False(t, got.IsPlatformAdmin)

	// A missing or mangled actor id leaves the request unauthenticated.
	ok = false
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Actor-Id", "not-a-number")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.False(t, ok)
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := PrincipalFromContext(req.Context())
	require.False(t, ok)

	ctx := ContextWithPrincipal(req.Context(), Principal{UserID: 7})
	principal, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(7), principal.UserID)
}
