package sync

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/steveyegge/homegraph/internal/errkind"
	"github.com/steveyegge/homegraph/internal/storage"
)

// State is a node in the client protocol state machine (§4.4).
type State string

const (
	StateIdle         State = "IDLE"
	StateCollecting    State = "COLLECTING"
	StateSending       State = "SENDING"
	StateApplying      State = "APPLYING"
	StateCommitting    State = "COMMITTING"
	StateRetryBackoff  State = "RETRY_BACKOFF"
	StateOffline       State = "OFFLINE"
)

// maxAttempts is "cap at six attempts; then OFFLINE" (§4.4): one initial send
// plus five retries.
const maxAttempts = 6

// Transport performs one Inbetweenies exchange over the wire. Framing, auth
// headers, and the HTTP route are out of scope for the core (§1); this is
// the seam the core depends on.
type Transport interface {
	Exchange(ctx context.Context, req *Request) (*Response, error)
}

// Applier writes an incoming Change into the local replica's store and index.
type Applier interface {
	Apply(ctx context.Context, change Change) error
}

// Engine drives one client replica's side of the protocol.
type Engine struct {
	DeviceID string
	UserID   string
	Store    storage.Store
	Apply    Applier
	Transport Transport
	Mode     ResolutionMode

	// Sleep is used for the RETRY_BACKOFF wait between attempts; overridden
	// in tests so the state machine doesn't actually block for 30s.
	Sleep func(time.Duration)

	state   State
	pending []Change
}

// NewEngine constructs an Engine with the production sleep function.
func NewEngine(deviceID, userID string, store storage.Store, applier Applier, transport Transport) *Engine {
	return &Engine{
		DeviceID: deviceID, UserID: userID, Store: store, Apply: applier, Transport: transport,
		Mode: ResolutionLWW, Sleep: time.Sleep, state: StateIdle,
	}
}

// State returns the engine's current state, for observability and tests.
func (e *Engine) State() State { return e.state }

// Stage appends a locally-produced change to the pending queue, to be sent
// on the next Sync call: the engine, not the store, owns the "what's
// pending" queue so the store stays a plain Graph Store.
func (e *Engine) Stage(c Change) {
	e.pending = append(e.pending, c)
}

// retryBackoff returns the fixed 1s/2s/4s/8s/16s/30s schedule (§4.4) via a
// capped exponential backoff.
func retryBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // attempt count is capped explicitly, not by elapsed time
	bo.Reset()
	return bo
}

// Sync runs one full IDLE→COLLECTING→SENDING→APPLYING→COMMITTING→IDLE cycle
// (§4.4), given the replica's current vector clock. On transport failure it
// retries with exponential backoff, transitioning to OFFLINE after six
// attempts.
func (e *Engine) Sync(ctx context.Context, clock storage.VectorClock) (*Response, error) {
	e.state = StateCollecting
	changes := e.pending
	e.pending = nil

	req := &Request{
		ProtocolVersion: ProtocolVersion,
		DeviceID:        e.DeviceID,
		UserID:          e.UserID,
		VectorClock:     clock,
		Changes:         changes,
		ResolutionMode:  e.Mode,
	}

	e.state = StateSending
	resp, err := e.sendWithRetry(ctx, req)
	if err != nil {
		e.pending = append(changes, e.pending...) // re-stage what we failed to send
		return nil, err
	}

	e.state = StateApplying
	for i, c := range resp.Changes {
		if applyErr := e.Apply.Apply(ctx, c); applyErr != nil {
			resp.FailedAt = i
			return resp, errkind.Wrap(errkind.StoreUnavailable, applyErr, "apply incoming change %d", i)
		}
	}

	e.state = StateCommitting
	merged := MergeVectorClocks(clock, resp.VectorClock)
	for k, v := range merged {
		clock[k] = v
	}

	e.state = StateIdle
	return resp, nil
}

func (e *Engine) sendWithRetry(ctx context.Context, req *Request) (*Response, error) {
	bo := retryBackoff()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := e.Transport.Exchange(ctx, req)
		if err == nil {
			return resp, nil
		}
		if kind, ok := errkind.KindOf(err); ok && kind == errkind.ProtocolMismatch {
			return nil, err // hard fail, no retry (§4.4)
		}
		if attempt == maxAttempts {
			e.state = StateOffline
			return nil, errkind.Wrap(errkind.StoreUnavailable, err, "offline after %d attempts", attempt)
		}
		e.state = StateRetryBackoff
		wait := bo.NextBackOff()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		e.Sleep(wait)
	}
	return nil, errkind.New(errkind.StoreUnavailable, "unreachable")
}
