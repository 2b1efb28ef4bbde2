package users

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinesia/kinesia/internal/rbac"
)

// storedRow mimics a users row as returned by pgx. A nil permissions
// pointer is a NULL column.
type storedRow struct {
	role        string
	permissions *[]string
}

func (s storedRow) Scan(dest ...any) error {
	if len(dest) != 8 {
		return fmt.Errorf("expected 8 destinations, got %d", len(dest))
	}
	*dest[0].(*int64) = 9
	*dest[1].(*string) = "legacy@x.com"
	*dest[2].(*string) = "Legacy"
	*dest[3].(*string) = s.role
	*dest[4].(**[]string) = s.permissions
	*dest[5].(*bool) = true
	*dest[6].(*time.Time) = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	*dest[7].(*time.Time) = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return nil
}

func stored(perms ...string) *[]string {
	if perms == nil {
		perms = []string{}
	}
	return &perms
}

func TestScanNullPermissionsUsesRoleDefault(t *testing.T) {
	table, err := rbac.DefaultRoleTable()
	require.NoError(t, err)
	repo := &Repository{logger: slog.Default()}

	user, err := repo.scan(storedRow{role: "kinesiologa"})
	require.NoError(t, err)
	assert.False(t, user.ExplicitPermissions)
	assert.Equal(t, table.Permissions(rbac.RoleKinesiologa).Slice(), rbac.EffectivePermissions(table, user.Account()).Slice())
}

func TestScanUnknownStoredPermissionsNeverWidenToRoleDefault(t *testing.T) {
	table, err := rbac.DefaultRoleTable()
	require.NoError(t, err)
	repo := &Repository{logger: slog.Default()}

	user, err := repo.scan(storedRow{role: "admin", permissions: stored("view_queue_legacy")})
	require.NoError(t, err)
	assert.True(t, user.ExplicitPermissions)
	assert.Empty(t, user.Permissions)
	assert.Zero(t, rbac.EffectivePermissions(table, user.Account()).Len())

	user, err = repo.scan(storedRow{role: "admin", permissions: stored("view_queue_legacy", "view_patients")})
	require.NoError(t, err)
	assert.Equal(t, []rbac.Permission{rbac.ViewPatients}, rbac.EffectivePermissions(table, user.Account()).Slice())
}

func TestScanEmptyStoredListGrantsNothing(t *testing.T) {
	table, err := rbac.DefaultRoleTable()
	require.NoError(t, err)
	repo := &Repository{logger: slog.Default()}

	user, err := repo.scan(storedRow{role: "superadmin", permissions: stored()})
	require.NoError(t, err)
	assert.Zero(t, rbac.EffectivePermissions(table, user.Account()).Len())
}
