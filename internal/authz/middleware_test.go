package authz_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atrium-cms/atrium/internal/authz"
)

func newMiddleware(claims map[string]authz.SessionClaims) authz.Middleware {
	return authz.Middleware{
		Resolver:  authz.NewResolver(&stubClaims{claims: claims}),
		Evaluator: authz.NewEvaluator(authz.DefaultTable()),
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequireAllowsGrantedRole(t *testing.T) {
	mw := newMiddleware(map[string]authz.SessionClaims{
		"tok": {UserID: 1, Role: authz.RoleManager},
	})

	req := httptest.NewRequest(http.MethodPost, "/tickets/5/assign", nil)
	req.Header.Set("Authorization", "Bearer tok")
	res := httptest.NewRecorder()

	mw.Require(authz.ResourceTicket, authz.ActionAssign)(okHandler()).ServeHTTP(res, req)
	require.Equal(t, http.StatusNoContent, res.Code)
}

func TestRequireDeniesMissingGrant(t *testing.T) {
	mw := newMiddleware(map[string]authz.SessionClaims{
		"tok": {UserID: 1, Role: authz.RoleEditor},
	})

	req := httptest.NewRequest(http.MethodPost, "/tickets/5/assign", nil)
	req.Header.Set("Authorization", "Bearer tok")
	res := httptest.NewRecorder()

	mw.Require(authz.ResourceTicket, authz.ActionAssign)(okHandler()).ServeHTTP(res, req)
	require.Equal(t, http.StatusForbidden, res.Code)
}

func TestRequireUnauthenticatedAPI(t *testing.T) {
	mw := newMiddleware(nil)

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("Accept", "application/json")
	res := httptest.NewRecorder()

	mw.Require(authz.ResourceUser, authz.ActionView)(okHandler()).ServeHTTP(res, req)
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestRequireUnauthenticatedBrowserRedirects(t *testing.T) {
	mw := newMiddleware(nil)

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	res := httptest.NewRecorder()

	mw.Require(authz.ResourceUser, authz.ActionView)(okHandler()).ServeHTTP(res, req)
	require.Equal(t, http.StatusSeeOther, res.Code)
	require.Equal(t, "/auth/login", res.Header().Get("Location"))
}

func TestAuthenticateInjectsPrincipal(t *testing.T) {
	mw := newMiddleware(map[string]authz.SessionClaims{
		"tok": {UserID: 8, Role: authz.RoleUser},
	})

	var seen authz.Principal
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := authz.PrincipalFromContext(r.Context())
		require.True(t, ok)
		seen = principal
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/tickets", nil)
	req.Header.Set("Authorization", "Bearer tok")
	res := httptest.NewRecorder()

	mw.Authenticate(inner).ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, int64(8), seen.UserID)
}
