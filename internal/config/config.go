// Package config loads the environment-shaped configuration of §6 through
// viper: flags, HOMEGRAPH_* environment variables, and an optional
// config.yaml, in that precedence order. A subset of keys is safe to
// hot-reload (rate-limit tunables, the audit sink path); the rest are
// startup-only since the signing key must stay read-only for the lifetime
// of the process.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/steveyegge/homegraph/internal/errkind"
)

const envPrefix = "HOMEGRAPH"

// Keys, matching §6 exactly.
const (
	KeyDatabaseURL        = "database_url"
	KeyBindAddress        = "bind_address"
	KeyPort               = "port"
	KeySigningKey         = "signing_key"
	KeyAdminPasswordHash  = "admin_password_hash"
	KeyGuestTokenTTL      = "guest_token_ttl"
	KeyAdminTokenTTL      = "admin_token_ttl"
	KeyRateLimitWindow    = "rate_limit_window"
	KeyRateLimitMax       = "rate_limit_max"
	KeyRateLimitLockout   = "rate_limit_lockout"
	KeyAuditSinkPath      = "audit_sink_path"
	KeySyncBatchMax       = "sync_batch_max"
)

// hotReloadable lists the keys re-read on a config.yaml change. Everything
// else requires a process restart to take effect.
var hotReloadable = map[string]bool{
	KeyRateLimitWindow:  true,
	KeyRateLimitMax:     true,
	KeyRateLimitLockout: true,
	KeyAuditSinkPath:    true,
}

// Config is a snapshot of the recognized keys, typed and defaulted per §6.
type Config struct {
	DatabaseURL       string
	BindAddress       string
	Port              int
	SigningKey        []byte
	AdminPasswordHash string
	GuestTokenTTL     time.Duration
	AdminTokenTTL     time.Duration
	RateLimitWindow   time.Duration
	RateLimitMax      int
	RateLimitLockout  time.Duration
	AuditSinkPath     string
	SyncBatchMax      int
}

// Loader owns the viper instance and the most recently loaded Config, so a
// hot-reload callback can swap in a new snapshot without disturbing fields
// that are startup-only.
type Loader struct {
	v *viper.Viper

	mu  sync.RWMutex
	cur Config
}

// New constructs a Loader with defaults set and env binding active. If
// configFile is non-empty, that path is read as YAML; a missing file is not
// an error (env vars and defaults still apply).
func New(configFile string) (*Loader, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault(KeyBindAddress, "0.0.0.0")
	v.SetDefault(KeyPort, 8443)
	v.SetDefault(KeyGuestTokenTTL, 24*time.Hour)
	v.SetDefault(KeyAdminTokenTTL, 7*24*time.Hour)
	v.SetDefault(KeyRateLimitWindow, 5*time.Minute)
	v.SetDefault(KeyRateLimitMax, 5)
	v.SetDefault(KeyRateLimitLockout, 15*time.Minute)
	v.SetDefault(KeySyncBatchMax, 1000)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errkind.Wrap(errkind.InvalidArgument, err, "read config file %s", configFile)
			}
		}
	}

	l := &Loader{v: v}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// WatchAndReload starts watching the config file (if one was set) and
// re-reads only the hot-reloadable keys on change, leaving startup-only
// fields (signing key, database URL, bind address/port, sync batch max)
// untouched in the live snapshot. onReload, if non-nil, is called after each
// successful reload with the new snapshot.
func (l *Loader) WatchAndReload(onReload func(Config)) {
	l.v.OnConfigChange(func(_ fsnotify.Event) {
		l.mu.Lock()
		next := l.cur
		next.RateLimitWindow = l.v.GetDuration(KeyRateLimitWindow)
		next.RateLimitMax = l.v.GetInt(KeyRateLimitMax)
		next.RateLimitLockout = l.v.GetDuration(KeyRateLimitLockout)
		next.AuditSinkPath = l.v.GetString(KeyAuditSinkPath)
		l.cur = next
		l.mu.Unlock()
		if onReload != nil {
			onReload(next)
		}
	})
	l.v.WatchConfig()
}

// reload reads every key (used once at startup; hot-reload only touches the
// subset in hotReloadable).
func (l *Loader) reload() error {
	cfg := Config{
		DatabaseURL:       l.v.GetString(KeyDatabaseURL),
		BindAddress:       l.v.GetString(KeyBindAddress),
		Port:              l.v.GetInt(KeyPort),
		SigningKey:        []byte(l.v.GetString(KeySigningKey)),
		AdminPasswordHash: l.v.GetString(KeyAdminPasswordHash),
		GuestTokenTTL:     l.v.GetDuration(KeyGuestTokenTTL),
		AdminTokenTTL:     l.v.GetDuration(KeyAdminTokenTTL),
		RateLimitWindow:   l.v.GetDuration(KeyRateLimitWindow),
		RateLimitMax:      l.v.GetInt(KeyRateLimitMax),
		RateLimitLockout:  l.v.GetDuration(KeyRateLimitLockout),
		AuditSinkPath:     l.v.GetString(KeyAuditSinkPath),
		SyncBatchMax:      l.v.GetInt(KeySyncBatchMax),
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	l.mu.Lock()
	l.cur = cfg
	l.mu.Unlock()
	return nil
}

// Current returns the most recently loaded snapshot.
func (l *Loader) Current() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

// Validate enforces the startup-fatal preconditions of §7: missing signing
// key, missing admin password record, or an empty database_url are all
// configuration errors (exit code 2), not storage faults (exit code 3).
func Validate(cfg Config) error {
	var missing []string
	if len(cfg.SigningKey) == 0 {
		missing = append(missing, KeySigningKey)
	}
	if cfg.AdminPasswordHash == "" {
		missing = append(missing, KeyAdminPasswordHash)
	}
	if cfg.DatabaseURL == "" {
		missing = append(missing, KeyDatabaseURL)
	}
	if len(missing) > 0 {
		return errkind.New(errkind.InvalidArgument, "missing required configuration keys: %v", missing)
	}
	return nil
}

// IsHotReloadable reports whether key is re-read from a changed config file
// without a restart.
func IsHotReloadable(key string) bool {
	return hotReloadable[key]
}

// Addr formats bind_address:port for net.Listen.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}
