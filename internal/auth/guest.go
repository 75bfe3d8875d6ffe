package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/homegraph/internal/errkind"
)

// Enrollment is the short-lived artifact generate_guest_qr returns (§4.5): a
// one-time code, the server's public identity, and the requested permissions.
type Enrollment struct {
	Code           string
	ServerIdentity string
	Permissions    []string
	IssuerAdminID  string
	ExpiresAt      time.Time
	used           bool
}

// GuestEnrollmentStore tracks outstanding QR enrollment codes so each one can
// be redeemed at most once (§4.5 "codes are single-use").
type GuestEnrollmentStore struct {
	serverIdentity string

	mu   sync.Mutex
	byCode map[string]*Enrollment
}

// NewGuestEnrollmentStore constructs a store that stamps every issued
// enrollment with serverIdentity (the server's public identity, e.g. a
// fingerprint of its signing key).
func NewGuestEnrollmentStore(serverIdentity string) *GuestEnrollmentStore {
	return &GuestEnrollmentStore{serverIdentity: serverIdentity, byCode: make(map[string]*Enrollment)}
}

// Generate issues a new enrollment for the given permissions and ttl, called
// by generate_guest_qr (§4.5).
func (s *GuestEnrollmentStore) Generate(issuerAdminID string, permissions []string, ttl time.Duration) *Enrollment {
	e := &Enrollment{
		Code:           uuid.NewString(),
		ServerIdentity: s.serverIdentity,
		Permissions:    append([]string(nil), permissions...),
		IssuerAdminID:  issuerAdminID,
		ExpiresAt:      time.Now().Add(ttl),
	}
	s.mu.Lock()
	s.byCode[e.Code] = e
	s.mu.Unlock()
	return e
}

// Redeem consumes code exactly once. Presentation after first use or after
// expiry is refused (§4.5).
func (s *GuestEnrollmentStore) Redeem(code string) (*Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byCode[code]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "guest enrollment code not found")
	}
	if e.used {
		return nil, errkind.New(errkind.Unauthorized, "guest enrollment code already used")
	}
	if time.Now().After(e.ExpiresAt) {
		return nil, errkind.New(errkind.Unauthorized, "guest enrollment code expired")
	}
	e.used = true
	return e, nil
}
