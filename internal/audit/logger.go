// Package audit implements the structured security audit log (§4.7): a
// bounded, non-blocking event stream with a synchronous flush path for the
// events that matter most, plus a background suspicious-pattern detector.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Event is the fixed event-kind enum (§4.7, 15 kinds plus the derived
// suspicious.pattern signal raised by the detector).
type Event string

const (
	EventAuthSuccess            Event = "auth.success"
	EventAuthFailure            Event = "auth.failure"
	EventAuthLockout            Event = "auth.lockout"
	EventTokenIssued            Event = "token.issued"
	EventTokenVerified          Event = "token.verified"
	EventTokenExpired           Event = "token.expired"
	EventTokenInvalid           Event = "token.invalid"
	EventTokenRevoked           Event = "token.revoked"
	EventAccessGranted          Event = "access.granted"
	EventAccessDenied           Event = "access.denied"
	EventGuestQRGenerated       Event = "guest.qr_generated"
	EventGuestTokenIssued       Event = "guest.token_issued"
	EventGuestAccess            Event = "guest.access"
	EventSuspiciousRateLimit    Event = "suspicious.rate_limit"
	EventSuspiciousInvalidAlgo  Event = "suspicious.invalid_algorithm"
	EventSuspiciousPattern      Event = "suspicious.pattern"
)

// Severity levels attached to a Record.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Record is the fixed audit record shape (§4.7).
type Record struct {
	Timestamp   time.Time      `json:"timestamp"`
	Event       Event          `json:"event"`
	Severity    Severity       `json:"severity"`
	ClientIP    string         `json:"client_ip"`
	SubjectID   string         `json:"subject_id,omitempty"`
	RequestInfo string         `json:"request_info,omitempty"`
	Detail      map[string]any `json:"detail_map,omitempty"`
}

// synchronousEvents flush to the sink immediately rather than riding the
// buffered channel: these are the event classes where losing a record to a
// full queue would blind an operator to an active attack.
var synchronousEvents = map[Event]bool{
	EventAuthSuccess:           true,
	EventAuthFailure:           true,
	EventAuthLockout:           true,
	EventTokenRevoked:          true,
	EventSuspiciousRateLimit:   true,
	EventSuspiciousInvalidAlgo: true,
	EventSuspiciousPattern:     true,
}

func isSynchronous(e Event) bool {
	return synchronousEvents[e]
}

// Logger owns the bounded event channel, the sink writer, and the
// pattern detector. The request path only ever calls Emit, which never
// blocks (§5 "non-blocking to the request path").
type Logger struct {
	sink     io.Writer
	mu       sync.Mutex // guards writes to sink
	queue    chan Record
	dropped  atomic.Int64
	detector *Detector
	limiter  *rate.Limiter // paces the background drain, never the synchronous path

	wg   sync.WaitGroup
	stop chan struct{}
}

// backgroundFlushRate bounds how fast the drain loop writes buffered
// (non-synchronous) events to the sink, so a burst never saturates slow
// disk or log-shipping I/O. It has no bearing on the synchronous path.
const backgroundFlushRate = 500 // events/sec

// NewLogger starts a Logger writing line-delimited JSON records to sink.
// queueSize bounds the asynchronous channel; Emit drops the oldest queued
// record (incrementing the audit.dropped counter) rather than blocking.
// If detectCfg is the zero value, no pattern detector runs.
func NewLogger(sink io.Writer, queueSize int, detectCfg DetectorConfig) *Logger {
	if queueSize <= 0 {
		queueSize = 1024
	}
	l := &Logger{
		sink:    sink,
		queue:   make(chan Record, queueSize),
		stop:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(backgroundFlushRate), backgroundFlushRate/5),
	}
	if detectCfg != (DetectorConfig{}) {
		l.detector = NewDetector(detectCfg, l.emitSignal)
	}
	l.wg.Add(1)
	go l.drain()
	return l
}

// emitSignal delivers a suspicious.pattern record raised by the detector.
// It is the synchronous-flush path, never the bounded async queue, since
// pattern signals are exactly the kind of event §9 says must not be lost.
func (l *Logger) emitSignal(rec Record) {
	l.write(rec)
}

// Emit records an event. Synchronous-class events (auth.*, suspicious.*)
// are flushed to the sink before Emit returns; everything else is
// enqueued on the bounded channel and drains in the background.
func (l *Logger) Emit(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if l.detector != nil {
		l.detector.Observe(rec)
	}
	if isSynchronous(rec.Event) {
		l.write(rec)
		return
	}
	select {
	case l.queue <- rec:
	default:
		// Drop the oldest queued record to make room, per §5.
		select {
		case <-l.queue:
			l.dropped.Add(1)
		default:
		}
		select {
		case l.queue <- rec:
		default:
			l.dropped.Add(1)
		}
	}
}

// Dropped returns the audit.dropped counter value.
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

func (l *Logger) drain() {
	defer l.wg.Done()
	for {
		select {
		case rec := <-l.queue:
			l.pacedWrite(rec)
		case <-l.stop:
			// Flush whatever remains before returning.
			for {
				select {
				case rec := <-l.queue:
					l.pacedWrite(rec)
				default:
					return
				}
			}
		}
	}
}

// pacedWrite waits for the background flush limiter before writing, so a
// burst of buffered events can't saturate the sink all at once.
func (l *Logger) pacedWrite(rec Record) {
	_ = l.limiter.Wait(context.Background())
	l.write(rec)
}

func (l *Logger) write(rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	enc := json.NewEncoder(l.sink)
	_ = enc.Encode(rec)
}

// Close stops the background drain goroutine after flushing any
// remaining queued records.
func (l *Logger) Close() error {
	close(l.stop)
	l.wg.Wait()
	return nil
}
