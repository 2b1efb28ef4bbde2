package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kinesia/kinesia/internal/shared"
)

// Account is the slice of a user record the authorization model needs.
type Account struct {
	ID    int64
	Email string
	Name  string
	Role  Role
	// Permissions is the explicit list.
	Permissions []Permission
	// Explicit is set when the stored record carries a list, even one that
	// ended up empty after unknown entries were dropped.
	Explicit bool
}

// HasExplicitPermissions reports whether the account overrides its role default.
func (a Account) HasExplicitPermissions() bool {
	return a.Explicit || len(a.Permissions) > 0
}

// AccountLookup loads accounts by email. Missing accounts return shared.ErrNotFound.
type AccountLookup interface {
	AccountByEmail(ctx context.Context, email string) (Account, error)
}

// Context is the authorization state of one request: who is signed in, their
// account and the permissions derived from it.
type Context struct {
	Principal   string
	Account     *Account
	Permissions PermissionSet
	Loading     bool
	Err         error
}

// Pending returns a context that has not been resolved yet. Gates render nothing for it.
func Pending(principal string) Context {
	return Context{Principal: principal, Loading: true}
}

// Anonymous returns the resolved context for a request without a principal.
func Anonymous() Context {
	return Context{}
}

// Authenticated reports whether a principal is signed in and its account was found.
func (c Context) Authenticated() bool {
	return !c.Loading && c.Principal != "" && c.Account != nil
}

// Has reports whether the context grants p. Always false while loading.
func (c Context) Has(p Permission) bool {
	return !c.Loading && c.Permissions.Has(p)
}

// HasAny reports whether the context grants any of perms. Always false while loading.
func (c Context) HasAny(perms ...Permission) bool {
	return !c.Loading && c.Permissions.HasAny(perms...)
}

// IsAdmin reports whether the signed-in account holds an administrative role.
func (c Context) IsAdmin() bool {
	return c.Authenticated() && c.Account.Role.IsAdmin()
}

// IsSelf reports whether email belongs to the signed-in principal.
func (c Context) IsSelf(email string) bool {
	return c.Principal != "" && strings.EqualFold(c.Principal, strings.TrimSpace(email))
}

// EffectivePermissions computes the permission set of an account: its explicit list when
// present (possibly empty), otherwise its role default. Unknown roles yield an empty set.
func EffectivePermissions(table *RoleTable, account Account) PermissionSet {
	if account.HasExplicitPermissions() {
		return NewPermissionSet(account.Permissions...)
	}
	return table.Permissions(account.Role)
}

// Resolver derives authorization contexts from principals.
type Resolver struct {
	accounts AccountLookup
	table    *RoleTable
	logger   *slog.Logger
	timeout  time.Duration
	group    singleflight.Group
}

// NewResolver builds a Resolver. The role table is injected, never read from globals.
func NewResolver(accounts AccountLookup, table *RoleTable, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{accounts: accounts, table: table, logger: logger, timeout: 5 * time.Second}
}

// Table exposes the injected role table.
func (r *Resolver) Table() *RoleTable {
	return r.table
}

// Resolve loads the principal's account and computes its permissions. It never fails:
// every error is recorded in Context.Err and yields an empty permission set.
// Concurrent calls for the same principal share one store fetch.
func (r *Resolver) Resolve(ctx context.Context, principal string) Context {
	principal = strings.ToLower(strings.TrimSpace(principal))
	if principal == "" {
		return Anonymous()
	}

	account, err := r.fetch(ctx, principal)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Warn("rbac resolve", slog.String("principal", principal), slog.Any("error", err))
		}
		return Context{Principal: principal, Err: err}
	}
	return Context{
		Principal:   principal,
		Account:     &account,
		Permissions: EffectivePermissions(r.table, account),
	}
}

func (r *Resolver) fetch(ctx context.Context, principal string) (Account, error) {
	// The shared fetch outlives any single caller so one cancelled request
	// does not fail the others waiting on it.
	ch := r.group.DoChan(principal, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.accounts.AccountByEmail(fetchCtx, principal)
	})
	select {
	case <-ctx.Done():
		return Account{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Account{}, classify(principal, res.Err)
		}
		return res.Val.(Account), nil
	}
}

func classify(principal string, err error) error {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return fmt.Errorf("rbac: account %s: %w", principal, shared.ErrNotFound)
	case errors.Is(err, shared.ErrTransport):
		return fmt.Errorf("rbac: load account %s: %w", principal, err)
	default:
		return fmt.Errorf("rbac: load account %s: %w: %w", principal, shared.ErrTransport, err)
	}
}

type authzContextKey struct{}

// WithContext stores the authorization context for downstream handlers.
func WithContext(ctx context.Context, authz Context) context.Context {
	return context.WithValue(ctx, authzContextKey{}, authz)
}

// FromContext returns the authorization context stored by the middleware.
// Without one, the request is treated as still loading and every gate stays closed.
func FromContext(ctx context.Context) Context {
	authz, ok := ctx.Value(authzContextKey{}).(Context)
	if !ok {
		return Pending(shared.PrincipalFromContext(ctx))
	}
	return authz
}
