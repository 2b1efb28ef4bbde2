package rbac

import (
	"context"
	"errors"
	"html/template"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinesia/kinesia/internal/shared"
)

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]Account
	err      error
	calls    atomic.Int32
	block    chan struct{}
}

func newFakeAccounts(accounts ...Account) *fakeAccounts {
	f := &fakeAccounts{accounts: make(map[string]Account)}
	for _, a := range accounts {
		f.accounts[a.Email] = a
	}
	return f
}

func (f *fakeAccounts) AccountByEmail(ctx context.Context, email string) (Account, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Account{}, f.err
	}
	a, ok := f.accounts[email]
	if !ok {
		return Account{}, shared.ErrNotFound
	}
	return a, nil
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}

func scenarioTable(t *testing.T) *RoleTable {
	t.Helper()
	table, err := NewRoleTable(map[Role][]Permission{
		RoleAdmin:       {ManageUsers, ViewReports},
		RoleKinesiologa: {ViewPatients},
	})
	require.NoError(t, err)
	return table
}

func TestParsePermissionRejectsUnknown(t *testing.T) {
	p, err := ParsePermission(" Manage_Users ")
	require.NoError(t, err)
	assert.Equal(t, ManageUsers, p)

	_, err = ParsePermission("manage_user")
	assert.Error(t, err)
}

func TestPermissionSetSliceUsesDeclarationOrder(t *testing.T) {
	set := NewPermissionSet(ConfigureQueue, ManageUsers, ViewPatients, ManageUsers)
	assert.Equal(t, []Permission{ManageUsers, ViewPatients, ConfigureQueue}, set.Slice())
	assert.Equal(t, 3, set.Len())
	assert.False(t, set.HasAny())
	assert.False(t, set.HasAll())
}

func TestDefaultRoleTable(t *testing.T) {
	table, err := DefaultRoleTable()
	require.NoError(t, err)

	assert.Equal(t, []Role{RoleSuperAdmin, RoleAdmin, RoleKinesiologa}, table.Roles())
	assert.ElementsMatch(t, AllPermissions(), table.Permissions(RoleSuperAdmin).Slice())
	assert.True(t, table.Permissions(RoleKinesiologa).Has(ViewPatients))
	assert.False(t, table.Permissions(RoleKinesiologa).Has(ManageUsers))
	for _, role := range table.Roles() {
		assert.NotZero(t, table.Permissions(role).Len(), "role %s must grant something", role)
	}
}

func TestParseRoleTableRejectsTypos(t *testing.T) {
	_, err := ParseRoleTable(strings.NewReader("roles:\n  admin: [manage_users, veiw_reports]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "veiw_reports")

	_, err = ParseRoleTable(strings.NewReader("roles:\n  receptionist: [view_queue]\n"))
	require.Error(t, err)

	_, err = ParseRoleTable(strings.NewReader("roles:\n  admin: [manage_users]\n  Admin: [view_queue]\n"))
	require.Error(t, err)

	_, err = ParseRoleTable(strings.NewReader("rolez:\n  admin: [manage_users]\n"))
	require.Error(t, err)
}

func TestLoadRoleTableFromFile(t *testing.T) {
	path := t.TempDir() + "/roles.yaml"
	require.NoError(t, writeFile(path, "roles:\n  kinesiologa: [view_queue]\n"))

	table, err := LoadRoleTable(path)
	require.NoError(t, err)
	assert.Equal(t, []Permission{ViewQueue}, table.Permissions(RoleKinesiologa).Slice())
	assert.Zero(t, table.Permissions(RoleAdmin).Len())

	_, err = LoadRoleTable(path + ".missing")
	assert.Error(t, err)
}

func TestEffectivePermissionsByRole(t *testing.T) {
	table := scenarioTable(t)
	for _, role := range []Role{RoleAdmin, RoleKinesiologa, RoleSuperAdmin, Role("intern")} {
		got := EffectivePermissions(table, Account{Email: "a@x.com", Role: role})
		assert.Equal(t, table.Permissions(role).Slice(), got.Slice(), "role %s", role)
	}
	assert.Zero(t, EffectivePermissions(table, Account{Role: Role("intern")}).Len())
}

func TestEffectivePermissionsExplicitListWins(t *testing.T) {
	table := scenarioTable(t)
	for _, role := range []Role{RoleAdmin, RoleKinesiologa, Role("unknown")} {
		got := EffectivePermissions(table, Account{Role: role, Permissions: []Permission{ViewQueue, ConfigureQueue}})
		assert.Equal(t, []Permission{ViewQueue, ConfigureQueue}, got.Slice())
	}
}

func TestEffectivePermissionsEmptyExplicitListGrantsNothing(t *testing.T) {
	table := scenarioTable(t)
	got := EffectivePermissions(table, Account{Role: RoleAdmin, Explicit: true})
	assert.Zero(t, got.Len())
	assert.True(t, Account{Explicit: true}.HasExplicitPermissions())
	assert.False(t, Account{Role: RoleAdmin}.HasExplicitPermissions())
}

func TestResolveAdminScenario(t *testing.T) {
	accounts := newFakeAccounts(Account{ID: 1, Email: "a@x.com", Role: RoleAdmin})
	resolver := NewResolver(accounts, scenarioTable(t), nil)

	authz := resolver.Resolve(context.Background(), "A@X.com")

	require.NoError(t, authz.Err)
	assert.False(t, authz.Loading)
	require.NotNil(t, authz.Account)
	assert.Equal(t, []string{"manage_users", "view_reports"}, authz.Permissions.Strings())
	assert.True(t, authz.IsAdmin())
	assert.True(t, authz.IsSelf("a@x.com"))
}

func TestResolveWithoutPrincipal(t *testing.T) {
	resolver := NewResolver(newFakeAccounts(), scenarioTable(t), nil)

	authz := resolver.Resolve(context.Background(), "")

	assert.False(t, authz.Loading)
	assert.Nil(t, authz.Account)
	assert.Zero(t, authz.Permissions.Len())
	assert.NoError(t, authz.Err)
	assert.False(t, authz.Authenticated())
}

func TestResolveMissingAccountFailsClosed(t *testing.T) {
	resolver := NewResolver(newFakeAccounts(), scenarioTable(t), nil)

	authz := resolver.Resolve(context.Background(), "ghost@x.com")

	assert.ErrorIs(t, authz.Err, shared.ErrNotFound)
	assert.Zero(t, authz.Permissions.Len())
	assert.Nil(t, authz.Account)
}

func TestResolveStoreFailureFailsClosed(t *testing.T) {
	accounts := newFakeAccounts(Account{Email: "a@x.com", Role: RoleAdmin})
	accounts.err = errors.New("connection refused")
	resolver := NewResolver(accounts, scenarioTable(t), nil)

	authz := resolver.Resolve(context.Background(), "a@x.com")

	assert.ErrorIs(t, authz.Err, shared.ErrTransport)
	assert.Zero(t, authz.Permissions.Len())
	assert.False(t, authz.HasAny(ManageUsers))
}

func TestResolveSharesConcurrentFetches(t *testing.T) {
	accounts := newFakeAccounts(Account{Email: "a@x.com", Role: RoleKinesiologa})
	accounts.block = make(chan struct{})
	resolver := NewResolver(accounts, scenarioTable(t), nil)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Context, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = resolver.Resolve(context.Background(), "a@x.com")
		}(i)
	}
	require.Eventually(t, func() bool { return accounts.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(accounts.block)
	wg.Wait()

	assert.LessOrEqual(t, accounts.calls.Load(), int32(callers))
	for _, authz := range results {
		assert.True(t, authz.Has(ViewPatients))
	}
}

func TestResolveCancelledCallerGetsNoPermissions(t *testing.T) {
	accounts := newFakeAccounts(Account{Email: "a@x.com", Role: RoleAdmin})
	accounts.block = make(chan struct{})
	defer close(accounts.block)
	resolver := NewResolver(accounts, scenarioTable(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	authz := resolver.Resolve(ctx, "a@x.com")

	assert.ErrorIs(t, authz.Err, context.Canceled)
	assert.Zero(t, authz.Permissions.Len())
}

func TestGateOrSemantics(t *testing.T) {
	authz := Context{Principal: "a@x.com", Permissions: NewPermissionSet(ViewPatients)}

	assert.True(t, Allows(authz, ViewPatients))
	assert.False(t, Allows(authz, ManageUsers))
	assert.True(t, Allows(authz, ManageUsers, ViewPatients))
	assert.False(t, Allows(authz, ManageUsers, ViewReports))
	assert.False(t, Allows(authz))
}

func TestGateRendersNothingWhileLoading(t *testing.T) {
	loading := Pending("a@x.com")
	loading.Permissions = NewPermissionSet(ViewPatients)

	assert.Equal(t, template.HTML(""), Render(loading, []Permission{ViewPatients}, "secret", "fallback"))
	assert.False(t, Allows(loading, ViewPatients))

	ready := Context{Principal: "a@x.com", Permissions: NewPermissionSet(ViewPatients)}
	assert.Equal(t, template.HTML("secret"), Render(ready, []Permission{ViewPatients}, "secret", "fallback"))
	assert.Equal(t, template.HTML("fallback"), Render(ready, []Permission{ManageUsers}, "secret", "fallback"))
	assert.Equal(t, template.HTML(""), Render(ready, []Permission{ManageUsers}, "secret", ""))
}

func TestTemplateFuncs(t *testing.T) {
	tpl := template.Must(template.New("t").Funcs(TemplateFuncs()).Parse(
		`{{if can .A "view_queue" "manage_users"}}yes{{else if not (loading .A)}}no{{end}}|{{gate .A "<b>q</b>" "-" "view_queue"}}`))

	render := func(a Context) string {
		var sb strings.Builder
		require.NoError(t, tpl.Execute(&sb, map[string]any{"A": a}))
		return sb.String()
	}

	assert.Equal(t, "yes|<b>q</b>", render(Context{Permissions: NewPermissionSet(ViewQueue)}))
	assert.Equal(t, "no|-", render(Context{}))
	assert.Equal(t, "|", render(Pending("a@x.com")))

	bad := template.Must(template.New("bad").Funcs(TemplateFuncs()).Parse(`{{if can .A "view_qeue"}}x{{end}}`))
	assert.Error(t, bad.Execute(&strings.Builder{}, map[string]any{"A": Context{}}))
}

func TestFromContextWithoutMiddlewareIsLoading(t *testing.T) {
	authz := FromContext(context.Background())
	assert.True(t, authz.Loading)
	assert.False(t, authz.Has(ManageUsers))

	stored := FromContext(WithContext(context.Background(), Context{Principal: "a@x.com"}))
	assert.False(t, stored.Loading)
	assert.Equal(t, "a@x.com", stored.Principal)
}
