package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinesia/kinesia/internal/shared"
)

type decisionLog struct {
	checks  []string
	allowed []bool
}

func (d *decisionLog) ObserveDecision(check string, allowed bool) {
	d.checks = append(d.checks, check)
	d.allowed = append(d.allowed, allowed)
}

func requestAs(t *testing.T, method, target, principal string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	sess := &shared.Session{ID: "test"}
	if principal != "" {
		sess.SetPrincipal(principal)
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func guardFixture(t *testing.T) (*Guard, *decisionLog) {
	t.Helper()
	table, err := DefaultRoleTable()
	require.NoError(t, err)
	accounts := newFakeAccounts(
		Account{ID: 1, Email: "root@x.com", Role: RoleSuperAdmin},
		Account{ID: 2, Email: "admin@x.com", Role: RoleAdmin},
		Account{ID: 3, Email: "kine@x.com", Role: RoleKinesiologa},
		// Explicit permissions do not open the admin area; the role decides.
		Account{ID: 4, Email: "power@x.com", Role: RoleKinesiologa, Permissions: []Permission{ManageUsers}},
	)
	log := &decisionLog{}
	return NewGuard(NewResolver(accounts, table, nil), nil, log), log
}

func TestGuardEvaluate(t *testing.T) {
	guard, _ := guardFixture(t)
	cases := []struct {
		principal string
		want      GuardState
	}{
		{"", StateUnauthenticated},
		{"kine@x.com", StateUnauthorized},
		{"power@x.com", StateUnauthorized},
		{"ghost@x.com", StateUnauthorized},
		{"admin@x.com", StateAuthorized},
		{"root@x.com", StateAuthorized},
	}
	for _, tc := range cases {
		t.Run(tc.want.String()+"/"+tc.principal, func(t *testing.T) {
			state, authz := guard.Evaluate(context.Background(), tc.principal)
			assert.Equal(t, tc.want, state)
			assert.False(t, authz.Loading)
		})
	}
}

func TestGuardRequireAdminRedirects(t *testing.T) {
	guard, log := guardFixture(t)
	var reached Context
	handler := guard.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, requestAs(t, http.MethodGet, "/admin/users", ""))
	assert.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/login", res.Header().Get("Location"))

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, requestAs(t, http.MethodGet, "/admin/users", "kine@x.com"))
	assert.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/", res.Header().Get("Location"))

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, requestAs(t, http.MethodGet, "/admin/users", "admin@x.com"))
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "admin@x.com", reached.Principal)
	assert.True(t, reached.Has(ManageUsers))

	assert.Equal(t, []bool{false, false, true}, log.allowed)
}

func TestMiddlewareRequireAny(t *testing.T) {
	table, err := DefaultRoleTable()
	require.NoError(t, err)
	accounts := newFakeAccounts(Account{Email: "kine@x.com", Role: RoleKinesiologa})
	mw := Middleware{Resolver: NewResolver(accounts, table, nil)}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	chain := mw.Load(mw.RequireAny(ConfigureQueue, ViewQueue)(ok))
	res := httptest.NewRecorder()
	chain.ServeHTTP(res, requestAs(t, http.MethodGet, "/queue", "kine@x.com"))
	assert.Equal(t, http.StatusNoContent, res.Code)

	chain = mw.Load(mw.RequireAny(ManageUsers)(ok))
	res = httptest.NewRecorder()
	chain.ServeHTTP(res, requestAs(t, http.MethodGet, "/reports", "kine@x.com"))
	assert.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/", res.Header().Get("Location"))

	req := requestAs(t, http.MethodGet, "/admin/api/users", "kine@x.com")
	req.Header.Set("Accept", "application/json")
	res = httptest.NewRecorder()
	chain.ServeHTTP(res, req)
	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.NotContains(t, res.Body.String(), "manage_users")

	res = httptest.NewRecorder()
	chain.ServeHTTP(res, requestAs(t, http.MethodGet, "/reports", ""))
	assert.Equal(t, "/login", res.Header().Get("Location"))
}

func TestMiddlewareRequireAllResolvesWithoutLoad(t *testing.T) {
	table, err := DefaultRoleTable()
	require.NoError(t, err)
	accounts := newFakeAccounts(Account{Email: "kine@x.com", Role: RoleKinesiologa})
	mw := Middleware{Resolver: NewResolver(accounts, table, nil)}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	res := httptest.NewRecorder()
	mw.RequireAll(ViewQueue, ManageQueue)(ok).ServeHTTP(res, requestAs(t, http.MethodPost, "/queue/next", "kine@x.com"))
	assert.Equal(t, http.StatusNoContent, res.Code)

	res = httptest.NewRecorder()
	mw.RequireAll(ViewQueue, ConfigureQueue)(ok).ServeHTTP(res, requestAs(t, http.MethodPost, "/queue/settings", "kine@x.com"))
	assert.Equal(t, http.StatusSeeOther, res.Code)
}

func TestMiddlewarePanicsOnUnknownPermission(t *testing.T) {
	mw := Middleware{}
	assert.Panics(t, func() { mw.RequireAny(Permission("view_everything")) })
}

func TestGuardRechecksEveryRequest(t *testing.T) {
	table, err := DefaultRoleTable()
	require.NoError(t, err)
	accounts := newFakeAccounts(Account{ID: 2, Email: "admin@x.com", Role: RoleAdmin})
	guard := NewGuard(NewResolver(accounts, table, nil), nil, nil)
	handler := guard.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, requestAs(t, http.MethodGet, "/admin/users", "admin@x.com"))
	require.Equal(t, http.StatusOK, res.Code)

	accounts.mu.Lock()
	accounts.accounts["admin@x.com"] = Account{ID: 2, Email: "admin@x.com", Role: RoleKinesiologa}
	accounts.mu.Unlock()

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, requestAs(t, http.MethodGet, "/admin/users", "admin@x.com"))
	assert.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/", res.Header().Get("Location"))

	accounts.mu.Lock()
	delete(accounts.accounts, "admin@x.com")
	accounts.mu.Unlock()

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, requestAs(t, http.MethodGet, "/admin/users", "admin@x.com"))
	assert.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/", res.Header().Get("Location"))
	assert.Equal(t, int32(3), accounts.calls.Load())
}

func TestGuardReusesContextLoadedForRequest(t *testing.T) {
	table, err := DefaultRoleTable()
	require.NoError(t, err)
	accounts := newFakeAccounts(
		Account{ID: 2, Email: "admin@x.com", Role: RoleAdmin},
		Account{ID: 3, Email: "kine@x.com", Role: RoleKinesiologa},
	)
	resolver := NewResolver(accounts, table, nil)
	mw := Middleware{Resolver: resolver}
	guard := NewGuard(resolver, nil, nil)
	chain := mw.Load(guard.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	res := httptest.NewRecorder()
	chain.ServeHTTP(res, requestAs(t, http.MethodGet, "/admin/users", "admin@x.com"))
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, int32(1), accounts.calls.Load())

	res = httptest.NewRecorder()
	chain.ServeHTTP(res, requestAs(t, http.MethodGet, "/admin/users", "kine@x.com"))
	assert.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/", res.Header().Get("Location"))
	assert.Equal(t, int32(2), accounts.calls.Load())

	res = httptest.NewRecorder()
	chain.ServeHTTP(res, requestAs(t, http.MethodGet, "/admin/users", ""))
	assert.Equal(t, "/login", res.Header().Get("Location"))
	assert.Equal(t, int32(2), accounts.calls.Load())
}
