// Package idgen generates entity ids and version strings.
//
// Version strings are the lexicographic total order the rest of the system
// relies on (§3 "latest", §8 P2): a fixed-width, zero-padded nanosecond
// timestamp followed by a writer id, so that `strings.Compare` on the raw
// string agrees with "timestamp dominates, writer id breaks ties" (§3).
package idgen

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// timestampWidth is wide enough for nanosecond epoch timestamps through the
// year 2262 (19 digits); fixed width keeps string order == numeric order.
const timestampWidth = 19

// VersionClock generates monotonic version strings for a single writer id.
// If the host clock is non-monotonic (or two calls land in the same
// nanosecond), it forces the next timestamp to be strictly greater than the
// last one it issued, per DESIGN NOTES §9.
type VersionClock struct {
	writerID string

	mu   sync.Mutex
	last int64
}

// NewVersionClock creates a clock for the given writer id (a user id, device
// id, or server instance id — whatever issues entity versions).
func NewVersionClock(writerID string) *VersionClock {
	return &VersionClock{writerID: writerID}
}

// Next returns the next version string for this writer, guaranteed to be
// strictly greater than every version string this clock has previously
// issued.
func (c *VersionClock) Next() string {
	return c.NextAt(time.Now())
}

// NextAt is Next with an explicit reference time, for deterministic tests.
func (c *VersionClock) NextAt(now time.Time) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := now.UnixNano()
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return FormatVersion(ts, c.writerID)
}

// FormatVersion renders a (timestamp, writer) pair as the canonical version
// string. Exposed so the sync layer can parse/reconstruct versions received
// over the wire without going through a clock.
func FormatVersion(ts int64, writerID string) string {
	return fmt.Sprintf("%0*d-%s", timestampWidth, ts, writerID)
}

// ParseVersion splits a version string back into its timestamp and writer id.
// Returns ok=false if the string isn't in the expected shape.
func ParseVersion(version string) (ts int64, writerID string, ok bool) {
	idx := strings.IndexByte(version, '-')
	if idx != timestampWidth {
		return 0, "", false
	}
	n, err := strconv.ParseInt(version[:idx], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return n, version[idx+1:], true
}

// idEncoding is stdlib's standard base32 alphabet with '=' padding removed;
// NewEntityID lowercases its output.
var idEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewEntityID generates a stable random identifier for a new entity: a short
// token sourced from crypto/rand, since entity ids are never read or typed
// by a person.
func NewEntityID(prefix string) string {
	var buf [10]byte
	_, _ = rand.Read(buf[:])
	token := strings.ToLower(idEncoding.EncodeToString(buf[:]))
	return fmt.Sprintf("%s-%s", prefix, token)
}

// NewRelationshipID generates a stable random identifier for a new relationship.
func NewRelationshipID() string {
	return NewEntityID("rel")
}
