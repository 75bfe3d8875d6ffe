package audit

import (
	"sync"
	"time"
)

// DetectorConfig holds the K/N pattern-detection thresholds (§4.7).
type DetectorConfig struct {
	Window    time.Duration // N: how far back the sweep looks
	Threshold int           // K: event count that trips a signal
}

// DefaultDetectorConfig matches a reasonable default sized to the rate
// limiter's own window (§4.6).
var DefaultDetectorConfig = DetectorConfig{
	Window:    5 * time.Minute,
	Threshold: 3,
}

// Detector watches the event stream for suspicious patterns:
//   - >= K auth.failure events from one IP across multiple distinct accounts
//   - >= K token.invalid events from one IP
//   - an auth.success from an IP whose immediately preceding event was auth.lockout
//
// It rebuilds its view from the recent window on every Observe rather than
// maintaining incremental counters: a "recompute on trigger" shape that
// trades a bit of CPU for never drifting out of sync with the real window.
type Detector struct {
	cfg DetectorConfig
	now func() time.Time

	mu      sync.Mutex
	events  []observed
	onSignal func(Record)
}

type observed struct {
	at        time.Time
	event     Event
	clientIP  string
	subjectID string
}

// NewDetector constructs a Detector. onSignal, if non-nil, is invoked
// synchronously whenever a suspicious.pattern signal is raised.
func NewDetector(cfg DetectorConfig, onSignal func(Record)) *Detector {
	return &Detector{cfg: cfg, now: time.Now, onSignal: onSignal}
}

// Observe folds rec into the window and re-evaluates the pattern rules.
// onSignal (if set) is invoked after the internal lock is released, so it
// may safely call back into the logger that owns this detector.
func (d *Detector) Observe(rec Record) {
	d.mu.Lock()
	now := d.now()
	d.events = append(d.events, observed{at: rec.Timestamp, event: rec.Event, clientIP: rec.ClientIP, subjectID: rec.SubjectID})
	d.events = pruneBefore(d.events, now.Add(-d.cfg.Window))
	sig, ok := d.evaluateLocked(rec)
	d.mu.Unlock()

	if ok && d.onSignal != nil {
		d.onSignal(sig)
	}
}

func pruneBefore(events []observed, cutoff time.Time) []observed {
	kept := events[:0]
	for _, e := range events {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

func (d *Detector) evaluateLocked(rec Record) (Record, bool) {
	switch rec.Event {
	case EventAuthFailure:
		accounts := map[string]bool{}
		count := 0
		for _, e := range d.events {
			if e.event == EventAuthFailure && e.clientIP == rec.ClientIP {
				count++
				accounts[e.subjectID] = true
			}
		}
		if count >= d.cfg.Threshold && len(accounts) > 1 {
			return d.signal(rec.ClientIP, "repeated auth.failure across multiple accounts"), true
		}
	case EventTokenInvalid:
		count := 0
		for _, e := range d.events {
			if e.event == EventTokenInvalid && e.clientIP == rec.ClientIP {
				count++
			}
		}
		if count >= d.cfg.Threshold {
			return d.signal(rec.ClientIP, "repeated token.invalid from one IP"), true
		}
	case EventAuthSuccess:
		if prev, ok := d.previousEventForIP(rec.ClientIP); ok && prev == EventAuthLockout {
			return d.signal(rec.ClientIP, "auth.success immediately following auth.lockout"), true
		}
	}
	return Record{}, false
}

// previousEventForIP returns the event immediately preceding the most
// recently observed event for clientIP (not counting the just-appended one).
func (d *Detector) previousEventForIP(clientIP string) (Event, bool) {
	var matches []observed
	for _, e := range d.events {
		if e.clientIP == clientIP {
			matches = append(matches, e)
		}
	}
	if len(matches) < 2 {
		return "", false
	}
	return matches[len(matches)-2].event, true
}

func (d *Detector) signal(clientIP, reason string) Record {
	return Record{
		Timestamp: d.now(),
		Event:     EventSuspiciousPattern,
		Severity:  SeverityCritical,
		ClientIP:  clientIP,
		Detail:    map[string]any{"reason": reason},
	}
}
