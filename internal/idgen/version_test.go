package idgen

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionClockMonotonic(t *testing.T) {
	c := NewVersionClock("u1")
	base := time.Unix(1000, 0)

	v1 := c.NextAt(base)
	v2 := c.NextAt(base) // same instant, must still advance
	v3 := c.NextAt(base.Add(-time.Hour)) // clock went backwards

	assert.Less(t, v1, v2)
	assert.Less(t, v2, v3)
}

func TestFormatParseVersionRoundTrip(t *testing.T) {
	v := FormatVersion(123456789, "writer-a")
	ts, writer, ok := ParseVersion(v)
	require.True(t, ok)
	assert.Equal(t, int64(123456789), ts)
	assert.Equal(t, "writer-a", writer)
}

func TestVersionOrderingMatchesTimestampThenWriter(t *testing.T) {
	earlier := FormatVersion(100, "zz")
	later := FormatVersion(200, "aa")
	assert.Less(t, earlier, later, "timestamp must dominate writer id in ordering")

	a := FormatVersion(100, "aa")
	b := FormatVersion(100, "bb")
	assert.Less(t, a, b, "writer id breaks ties at equal timestamp")
}

func TestParseVersionRejectsMalformed(t *testing.T) {
	_, _, ok := ParseVersion("not-a-version")
	assert.False(t, ok)

	_, _, ok = ParseVersion("")
	assert.False(t, ok)
}

func TestNewEntityIDHasPrefix(t *testing.T) {
	id := NewEntityID("room")
	assert.True(t, strings.HasPrefix(id, "room-"))
	assert.NotEqual(t, id, NewEntityID("room"))
}
