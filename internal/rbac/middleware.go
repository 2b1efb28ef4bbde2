package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/kinesia/kinesia/internal/platform/httpx"
	"github.com/kinesia/kinesia/internal/shared"
)

// DecisionRecorder receives allow/deny outcomes, typically for metrics.
type DecisionRecorder interface {
	ObserveDecision(check string, allowed bool)
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
	Recorder DecisionRecorder
}

// Load resolves the authorization context of every request and stores it in the
// request context. It never rejects a request on its own.
func (m Middleware) Load(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := m.Resolver.Resolve(r.Context(), shared.PrincipalFromContext(r.Context()))
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), authz)))
	})
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...Permission) func(http.Handler) http.Handler {
	return m.require("any", perms, func(authz Context) bool {
		return Allows(authz, perms...)
	})
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...Permission) func(http.Handler) http.Handler {
	return m.require("all", perms, func(authz Context) bool {
		return !authz.Loading && authz.Permissions.HasAll(perms...)
	})
}

func (m Middleware) require(mode string, perms []Permission, allowed func(Context) bool) func(http.Handler) http.Handler {
	for _, p := range perms {
		if !p.Valid() {
			panic("rbac: middleware configured with unknown permission " + string(p))
		}
	}
	check := mode + ":" + joinPermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := FromContext(r.Context())
			if authz.Loading {
				authz = m.Resolver.Resolve(r.Context(), shared.PrincipalFromContext(r.Context()))
				r = r.WithContext(WithContext(r.Context(), authz))
			}
			ok := allowed(authz)
			if m.Recorder != nil {
				m.Recorder.ObserveDecision(check, ok)
			}
			if ok {
				next.ServeHTTP(w, r)
				return
			}
			if authz.Err != nil && m.Logger != nil {
				m.Logger.Warn("rbac denied", slog.String("principal", authz.Principal), slog.Any("error", authz.Err))
			}
			Deny(w, r, authz)
		})
	}
}

// Deny answers a request the principal may not perform. API clients get a bare
// 403; browsers are redirected to the login page or home without a reason.
func Deny(w http.ResponseWriter, r *http.Request, authz Context) {
	if httpx.WantsJSON(r) {
		if authz.Principal == "" {
			httpx.RespondError(w, shared.ErrInvalidCredentials)
			return
		}
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	if authz.Principal == "" {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func joinPermissions(perms []Permission) string {
	parts := make([]string, len(perms))
	for i, p := range perms {
		parts[i] = string(p)
	}
	return strings.Join(parts, ",")
}
