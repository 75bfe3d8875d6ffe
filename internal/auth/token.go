package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/steveyegge/homegraph/internal/errkind"
)

// Role is the subject's role claim (§4.5).
type Role string

const (
	RoleAdmin Role = "admin"
	RoleGuest Role = "guest"
)

// DefaultAdminTokenTTL and DefaultGuestTokenTTL match §6's configuration defaults.
const (
	DefaultAdminTokenTTL = 7 * 24 * time.Hour
	DefaultGuestTokenTTL = 24 * time.Hour
)

// allowedSigningMethods is the fixed algorithm allowlist (§4.5): HMAC only.
// The explicit "none" algorithm is never in this set, so jwt.ParseWithClaims
// refuses it by construction.
var allowedSigningMethods = []string{jwt.SigningMethodHS256.Name}

// Claims is the token payload (§3 "Token record").
type Claims struct {
	jwt.RegisteredClaims
	Role           Role     `json:"role"`
	Permissions    []string `json:"permissions,omitempty"`
	GuestIssuerID  string   `json:"guest_issuer_id,omitempty"`
	QRGenerationID string   `json:"qr_generation_id,omitempty"`
}

// HasPermission reports whether a guest claims set grants action. Admin
// tokens carry no Permissions list because the role itself grants everything
// (§4.5 "admin: full read/write").
func (c *Claims) HasPermission(action string) bool {
	if c.Role == RoleAdmin {
		return true
	}
	for _, p := range c.Permissions {
		if p == action {
			return true
		}
	}
	return false
}

// IssueAdminToken signs a session token for the admin subject.
func IssueAdminToken(signingKey []byte, subject string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = DefaultAdminTokenTTL
	}
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: RoleAdmin,
	}
	return signClaims(signingKey, claims)
}

// IssueGuestToken signs a token granting the given permissions, tied back to
// the admin that issued the enrolling QR code (§4.5).
func IssueGuestToken(signingKey []byte, subject string, permissions []string, issuerAdminID, qrGenerationID string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = DefaultGuestTokenTTL
	}
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:           RoleGuest,
		Permissions:    append([]string(nil), permissions...),
		GuestIssuerID:  issuerAdminID,
		QRGenerationID: qrGenerationID,
	}
	return signClaims(signingKey, claims)
}

func signClaims(signingKey []byte, claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", errkind.Wrap(errkind.Unauthorized, err, "sign token")
	}
	return signed, nil
}

// VerifyToken checks the token's signature against signingKey, restricted to
// the allowed algorithm set (so "none" and any asymmetric downgrade attempt
// are refused by construction, per P7), and that exp is in the future.
func VerifyToken(signingKey []byte, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return signingKey, nil
	}, jwt.WithValidMethods(allowedSigningMethods), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errkind.Wrap(errkind.Unauthorized, err, "verify token")
	}
	return claims, nil
}
