// Package auth implements password hashing, session/guest token issuance and
// verification, guest QR enrollment, and the per-IP rate limiter (§4.5, §4.6).
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"

	"github.com/steveyegge/homegraph/internal/errkind"
)

// KDFParams are the memory-hard KDF's tunables (§4.5 "iteration/memory
// parameters are configuration").
type KDFParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

// DefaultKDFParams match argon2's own recommended interactive parameters.
var DefaultKDFParams = KDFParams{Time: 1, Memory: 64 * 1024, Threads: 4, KeyLen: 32, SaltLen: 16}

const hashFormat = "argon2id$%d$%d$%d$%s$%s"

// HashPassword validates password against the password rules, then hashes it
// with Argon2id under params, returning the encoded record (§3 "Admin password
// record": salted hash, algorithm identifier, creation time — the identifier
// and salt are embedded in the encoded string itself).
func HashPassword(password string, params KDFParams) (string, error) {
	if err := ValidatePasswordRules(password); err != nil {
		return "", err
	}
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", errkind.Wrap(errkind.StoreUnavailable, err, "generate salt")
	}
	hash := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, params.KeyLen)
	return fmt.Sprintf(hashFormat, params.Time, params.Memory, params.Threads,
		base64.RawStdEncoding.EncodeToString(salt), base64.RawStdEncoding.EncodeToString(hash)), nil
}

// VerifyPassword checks password against an encoded record produced by
// HashPassword. Password rules are enforced on set only, never on verify
// (§4.5), so a historical password that predates a rule change still works.
func VerifyPassword(password, encoded string) (bool, error) {
	var timeCost, threads uint32
	var memory uint32
	var saltB64, hashB64 string
	n, err := fmt.Sscanf(strings.ReplaceAll(encoded, "$", " "), "argon2id %d %d %d %s %s", &timeCost, &memory, &threads, &saltB64, &hashB64)
	if err != nil || n != 5 {
		return false, errkind.New(errkind.InvalidArgument, "malformed password record")
	}
	salt, err := base64.RawStdEncoding.DecodeString(saltB64)
	if err != nil {
		return false, errkind.New(errkind.InvalidArgument, "malformed password record salt")
	}
	want, err := base64.RawStdEncoding.DecodeString(hashB64)
	if err != nil {
		return false, errkind.New(errkind.InvalidArgument, "malformed password record hash")
	}
	got := argon2.IDKey([]byte(password), salt, timeCost, memory, uint8(threads), uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// ValidatePasswordRules enforces §4.5: at least 12 characters, at least one
// each of upper, lower, digit, and non-alphanumeric.
func ValidatePasswordRules(password string) error {
	if len(password) < 12 {
		return errkind.New(errkind.InvalidArgument, "password must be at least 12 characters")
	}
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			hasSymbol = true
		}
	}
	var missing []string
	if !hasUpper {
		missing = append(missing, "uppercase letter")
	}
	if !hasLower {
		missing = append(missing, "lowercase letter")
	}
	if !hasDigit {
		missing = append(missing, "digit")
	}
	if !hasSymbol {
		missing = append(missing, "non-alphanumeric character")
	}
	if len(missing) > 0 {
		return errkind.New(errkind.InvalidArgument, "password missing required character classes: %s", strings.Join(missing, ", "))
	}
	return nil
}
