package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-signing-key-at-least-32-bytes-long")

func TestIssueAndVerifyAdminToken(t *testing.T) {
	tok, err := IssueAdminToken(testKey, "admin-1", time.Hour)
	require.NoError(t, err)

	claims, err := VerifyToken(testKey, tok)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.Equal(t, "admin-1", claims.Subject)
	assert.True(t, claims.HasPermission("anything"), "admin role grants every action")
}

func TestGuestTokenPermissionsAreBounded(t *testing.T) {
	tok, err := IssueGuestToken(testKey, "guest-1", []string{"read"}, "admin-1", "qr-1", time.Hour)
	require.NoError(t, err)

	claims, err := VerifyToken(testKey, tok)
	require.NoError(t, err)
	assert.Equal(t, RoleGuest, claims.Role)
	assert.True(t, claims.HasPermission("read"))
	assert.False(t, claims.HasPermission("write"), "guest token never grants an action outside its permissions (P8)")
}

func TestVerifyTokenRejectsNoneAlgorithm(t *testing.T) {
	// Build a "none"-algorithm token by hand the way an attacker would.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Role:             RoleAdmin,
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = VerifyToken(testKey, signed)
	assert.Error(t, err, "P7: tokens signed with the none algorithm must never verify")
}

func TestVerifyTokenRejectsWrongKey(t *testing.T) {
	tok, err := IssueAdminToken(testKey, "admin-1", time.Hour)
	require.NoError(t, err)

	_, err = VerifyToken([]byte("a-completely-different-key-value"), tok)
	assert.Error(t, err)
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	tok, err := IssueAdminToken(testKey, "admin-1", -time.Second) // exp one second in the past
	require.NoError(t, err)

	_, err = VerifyToken(testKey, tok)
	assert.Error(t, err)
}
