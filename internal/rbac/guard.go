package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kinesia/kinesia/internal/platform/httpx"
	"github.com/kinesia/kinesia/internal/shared"
)

// GuardState is a step of the admin-area check.
type GuardState int

const (
	StateCheckingSession GuardState = iota
	StateUnauthenticated
	StateUnauthorized
	StateAuthorized
)

func (s GuardState) String() string {
	switch s {
	case StateCheckingSession:
		return "checking-session"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateUnauthorized:
		return "unauthorized"
	case StateAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Guard protects the administrative area. It re-evaluates on every request.
type Guard struct {
	resolver  *Resolver
	logger    *slog.Logger
	recorder  DecisionRecorder
	LoginPath string
	HomePath  string
}

// NewGuard builds a Guard redirecting to /login and /.
func NewGuard(resolver *Resolver, logger *slog.Logger, recorder DecisionRecorder) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{resolver: resolver, logger: logger, recorder: recorder, LoginPath: "/login", HomePath: "/"}
}

// Evaluate runs the state machine for principal and returns the terminal state
// together with the resolved authorization context.
func (g *Guard) Evaluate(ctx context.Context, principal string) (GuardState, Context) {
	state := StateCheckingSession
	authz := Pending(principal)
	for {
		switch state {
		case StateCheckingSession:
			if principal == "" {
				state = StateUnauthenticated
				continue
			}
			authz = g.resolver.Resolve(ctx, principal)
			state = stateOf(authz)
		default:
			return state, authz
		}
	}
}

// stateOf maps a resolved context onto a terminal guard state.
func stateOf(authz Context) GuardState {
	switch {
	case authz.Principal == "":
		return StateUnauthenticated
	case authz.IsAdmin():
		return StateAuthorized
	default:
		return StateUnauthorized
	}
}

// RequireAdmin redirects unauthenticated requests to the login page and
// non-admin principals to the home page. API clients get 401/403 instead.
// No reason is given for a denial. A context already resolved for this
// request by Middleware.Load is reused; otherwise the principal is resolved here.
func (g *Guard) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := strings.TrimSpace(shared.PrincipalFromContext(r.Context()))
		authz := FromContext(r.Context())
		var state GuardState
		if authz.Loading || !strings.EqualFold(authz.Principal, principal) {
			state, authz = g.Evaluate(r.Context(), principal)
		} else {
			state = stateOf(authz)
		}
		if g.recorder != nil {
			g.recorder.ObserveDecision("admin_guard", state == StateAuthorized)
		}
		switch {
		case state == StateAuthorized:
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), authz)))
		case httpx.WantsJSON(r):
			Deny(w, r, authz)
		case state == StateUnauthenticated:
			http.Redirect(w, r, g.LoginPath, http.StatusSeeOther)
		default:
			if authz.Err != nil {
				g.logger.Warn("admin guard denied", slog.String("principal", authz.Principal), slog.Any("error", authz.Err))
			}
			http.Redirect(w, r, g.HomePath, http.StatusSeeOther)
		}
	})
}
