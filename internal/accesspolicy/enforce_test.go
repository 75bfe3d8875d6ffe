package accesspolicy

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/homegraph/internal/audit"
	"github.com/steveyegge/homegraph/internal/auth"
)

func TestEnforcerRecordsAccessDenied(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLogger(&buf, 16, audit.DetectorConfig{})
	defer logger.Close()
	enf := NewEnforcer(logger)

	guest := &auth.Claims{Role: auth.RoleGuest, Permissions: []string{"read"}}
	err := enf.Authorize(ActionCreateEntity, guest, "10.0.0.1")
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return strings.Count(buf.String(), "\n") == 1
	}, time.Second, time.Millisecond)

	var rec audit.Record
	require.NoError(t, json.NewDecoder(strings.NewReader(buf.String())).Decode(&rec))
	assert.Equal(t, audit.EventAccessDenied, rec.Event)
	assert.Equal(t, "10.0.0.1", rec.ClientIP)
}

func TestEnforcerRecordsAccessGranted(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLogger(&buf, 16, audit.DetectorConfig{})
	defer logger.Close()
	enf := NewEnforcer(logger)

	guest := &auth.Claims{Role: auth.RoleGuest, Permissions: []string{"read"}}
	err := enf.Authorize(ActionSearchEntities, guest, "10.0.0.1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Count(buf.String(), "\n") == 1
	}, time.Second, time.Millisecond)

	var rec audit.Record
	require.NoError(t, json.NewDecoder(strings.NewReader(buf.String())).Decode(&rec))
	assert.Equal(t, audit.EventAccessGranted, rec.Event)
}
