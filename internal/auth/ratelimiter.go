package auth

import (
	"sync"
	"time"

	"github.com/steveyegge/homegraph/internal/errkind"
)

// RateLimiterConfig matches §6's rate_limit_* configuration keys.
type RateLimiterConfig struct {
	Window      time.Duration // default 5 min
	Max         int           // default 5
	Lockout     time.Duration // default 15 min
	BaseDelay   time.Duration // default 50ms
	IdleEvict   time.Duration // default 30 min
}

// DefaultRateLimiterConfig matches §4.6's stated defaults.
var DefaultRateLimiterConfig = RateLimiterConfig{
	Window: 5 * time.Minute, Max: 5, Lockout: 15 * time.Minute,
	BaseDelay: 50 * time.Millisecond, IdleEvict: 30 * time.Minute,
}

type bucket struct {
	mu          sync.Mutex
	attempts    []time.Time
	lockedUntil time.Time
	lastSeen    time.Time
}

// RateLimiter is a process-local, per-IP sliding-window limiter (§4.6).
// Distribution across multiple servers is out of scope for the core.
type RateLimiter struct {
	cfg RateLimiterConfig

	mu      sync.Mutex
	buckets map[string]*bucket

	now func() time.Time
}

// NewRateLimiter constructs a limiter with the given config.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return &RateLimiter{cfg: cfg, buckets: make(map[string]*bucket), now: time.Now}
}

func (r *RateLimiter) bucketFor(ip string) *bucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[ip]
	if !ok {
		b = &bucket{}
		r.buckets[ip] = b
	}
	return b
}

// Allow records an attempt from ip. It returns a synthetic delay to apply
// before responding (§4.6 progressive delay), or a TooManyRequests error with
// retry_after if the IP is locked out.
func (r *RateLimiter) Allow(ip string) (delay time.Duration, retryAfter time.Duration, err error) {
	b := r.bucketFor(ip)
	now := r.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastSeen = now

	if now.Before(b.lockedUntil) {
		return 0, b.lockedUntil.Sub(now), errkind.New(errkind.TooManyRequests, "too many attempts from %s", ip)
	}

	windowStart := now.Add(-r.cfg.Window)
	kept := b.attempts[:0]
	for _, t := range b.attempts {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}
	b.attempts = kept
	b.attempts = append(b.attempts, now)

	if len(b.attempts) > r.cfg.Max {
		b.lockedUntil = now.Add(r.cfg.Lockout)
		return 0, r.cfg.Lockout, errkind.New(errkind.TooManyRequests, "too many attempts from %s", ip)
	}

	n := len(b.attempts)
	if n > 5 {
		n = 5
	}
	return r.cfg.BaseDelay * time.Duration(n), 0, nil
}

// Sweep evicts buckets idle for more than cfg.IdleEvict (§4.6 bookkeeping).
// Intended to run periodically on a background goroutine.
func (r *RateLimiter) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for ip, b := range r.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastSeen) > r.cfg.IdleEvict
		b.mu.Unlock()
		if idle {
			delete(r.buckets, ip)
		}
	}
}
