package accesspolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/homegraph/internal/auth"
	"github.com/steveyegge/homegraph/internal/errkind"
)

func TestAdminSatisfiesEveryRequirement(t *testing.T) {
	admin := &auth.Claims{Role: auth.RoleAdmin}
	for action := range policy {
		assert.NoError(t, Check(action, admin), "admin should satisfy %s", action)
	}
}

func TestGuestWithReadCanCallReadActions(t *testing.T) {
	guest := &auth.Claims{Role: auth.RoleGuest, Permissions: []string{"read"}}
	assert.NoError(t, Check(ActionSearchEntities, guest))
	assert.NoError(t, Check(ActionFindPath, guest))
}

func TestGuestCannotCreateEntity(t *testing.T) {
	// Mirrors scenario S5: a read-only guest token is refused on a write action.
	guest := &auth.Claims{Role: auth.RoleGuest, Permissions: []string{"read"}}
	err := Check(ActionCreateEntity, guest)
	require.Error(t, err)
	kind, ok := errkind.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errkind.PermissionDenied, kind)
}

func TestGuestWithoutReadPermissionIsDenied(t *testing.T) {
	guest := &auth.Claims{Role: auth.RoleGuest, Permissions: []string{"something-else"}}
	err := Check(ActionSearchEntities, guest)
	require.Error(t, err)
	kind, ok := errkind.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errkind.PermissionDenied, kind)
}

func TestNoClaimsIsDenied(t *testing.T) {
	err := Check(ActionSearchEntities, nil)
	require.Error(t, err)
	kind, ok := errkind.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errkind.PermissionDenied, kind)
}

func TestUnknownActionIsInvalidArgument(t *testing.T) {
	err := Check(Action("does_not_exist"), &auth.Claims{Role: auth.RoleAdmin})
	require.Error(t, err)
	kind, ok := errkind.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errkind.InvalidArgument, kind)
}

func TestPreAuthenticationActionsAllowNilClaims(t *testing.T) {
	assert.NoError(t, Check(ActionGuestCodePresent, nil))
}

func TestRateLimitedMarking(t *testing.T) {
	assert.True(t, RateLimited(ActionAdminLogin))
	assert.True(t, RateLimited(ActionGuestCodePresent))
	assert.False(t, RateLimited(ActionSearchEntities))
}
