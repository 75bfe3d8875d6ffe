package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultsApplyWhenKeysAbsent(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, "database_url: \"file:test.db\"\nsigning_key: \"secret\"\nadmin_password_hash: \"hash\"\n")

	l, err := New(path)
	require.NoError(t, err)

	cur := l.Current()
	assert.Equal(t, 24*time.Hour, cur.GuestTokenTTL)
	assert.Equal(t, 7*24*time.Hour, cur.AdminTokenTTL)
	assert.Equal(t, 5*time.Minute, cur.RateLimitWindow)
	assert.Equal(t, 5, cur.RateLimitMax)
	assert.Equal(t, 15*time.Minute, cur.RateLimitLockout)
	assert.Equal(t, 1000, cur.SyncBatchMax)
}

func TestMissingRequiredKeysFailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, "bind_address: \"127.0.0.1\"\n")

	_, err := New(path)
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, "database_url: \"file:test.db\"\nsigning_key: \"secret\"\nadmin_password_hash: \"hash\"\nport: 9000\n")

	t.Setenv("HOMEGRAPH_PORT", "9443")

	l, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, 9443, l.Current().Port)
}

func TestHotReloadOnlyTouchesSafeKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, "database_url: \"file:test.db\"\nsigning_key: \"secret\"\nadmin_password_hash: \"hash\"\nrate_limit_max: 5\n")

	l, err := New(path)
	require.NoError(t, err)

	reloaded := make(chan Config, 1)
	l.WatchAndReload(func(c Config) { reloaded <- c })

	writeYAML(t, dir, "database_url: \"file:other.db\"\nsigning_key: \"different\"\nadmin_password_hash: \"hash\"\nrate_limit_max: 9\n")

	select {
	case c := <-reloaded:
		assert.Equal(t, 9, c.RateLimitMax)
		// startup-only fields are untouched by the reload path.
		assert.Equal(t, "file:test.db", l.Current().DatabaseURL)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestIsHotReloadable(t *testing.T) {
	assert.True(t, IsHotReloadable(KeyRateLimitMax))
	assert.True(t, IsHotReloadable(KeyAuditSinkPath))
	assert.False(t, IsHotReloadable(KeySigningKey))
	assert.False(t, IsHotReloadable(KeyDatabaseURL))
}

func TestAddrFormatsBindAddressAndPort(t *testing.T) {
	cfg := Config{BindAddress: "0.0.0.0", Port: 8443}
	assert.Equal(t, "0.0.0.0:8443", cfg.Addr())
}
