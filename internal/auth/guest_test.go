package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuestEnrollmentSingleUse(t *testing.T) {
	store := NewGuestEnrollmentStore("server-identity-1")
	e := store.Generate("admin-1", []string{"read"}, time.Hour)

	redeemed, err := store.Redeem(e.Code)
	require.NoError(t, err)
	assert.Equal(t, []string{"read"}, redeemed.Permissions)

	_, err = store.Redeem(e.Code)
	assert.Error(t, err, "presenting the same code again must be refused")
}

func TestGuestEnrollmentExpiry(t *testing.T) {
	store := NewGuestEnrollmentStore("server-identity-1")
	e := store.Generate("admin-1", []string{"read"}, -time.Second) // already expired

	_, err := store.Redeem(e.Code)
	assert.Error(t, err)
}

func TestGuestEnrollmentUnknownCode(t *testing.T) {
	store := NewGuestEnrollmentStore("server-identity-1")
	_, err := store.Redeem("not-a-real-code")
	assert.Error(t, err)
}
