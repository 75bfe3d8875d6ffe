package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/homegraph/internal/storage"
)

type fakeTransport struct {
	failures int
	calls    int
	resp     *Response
}

func (f *fakeTransport) Exchange(ctx context.Context, req *Request) (*Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection refused")
	}
	return f.resp, nil
}

type noopApplier struct{ applied []Change }

func (n *noopApplier) Apply(ctx context.Context, c Change) error {
	n.applied = append(n.applied, c)
	return nil
}

func TestEngineSyncSucceedsFirstTry(t *testing.T) {
	transport := &fakeTransport{resp: &Response{VectorClock: storage.VectorClock{"server": "v1"}}}
	applier := &noopApplier{}
	e := NewEngine("dev1", "u1", nil, applier, transport)
	e.Sleep = func(time.Duration) {}

	clock := storage.VectorClock{}
	resp, err := e.Sync(context.Background(), clock)
	require.NoError(t, err)
	assert.NotNil(t, resp)
	assert.Equal(t, StateIdle, e.State())
	assert.Equal(t, "v1", clock["server"])
}

func TestEngineRetriesThenSucceeds(t *testing.T) {
	transport := &fakeTransport{failures: 2, resp: &Response{VectorClock: storage.VectorClock{}}}
	applier := &noopApplier{}
	e := NewEngine("dev1", "u1", nil, applier, transport)

	var slept []time.Duration
	e.Sleep = func(d time.Duration) { slept = append(slept, d) }

	_, err := e.Sync(context.Background(), storage.VectorClock{})
	require.NoError(t, err)
	assert.Equal(t, 3, transport.calls)
	require.Len(t, slept, 2)
	assert.Equal(t, time.Second, slept[0])
	assert.Equal(t, 2*time.Second, slept[1])
}

func TestEngineGoesOfflineAfterSixAttempts(t *testing.T) {
	transport := &fakeTransport{failures: 100}
	e := NewEngine("dev1", "u1", nil, &noopApplier{}, transport)
	e.Sleep = func(time.Duration) {}

	_, err := e.Sync(context.Background(), storage.VectorClock{})
	require.Error(t, err)
	assert.Equal(t, StateOffline, e.State())
	assert.Equal(t, maxAttempts, transport.calls)
}

func TestEngineStagesPendingChangesIntoNextRequest(t *testing.T) {
	var captured *Request
	transport := &captureTransport{resp: &Response{VectorClock: storage.VectorClock{}}, capture: &captured}
	e := NewEngine("dev1", "u1", nil, &noopApplier{}, transport)
	e.Sleep = func(time.Duration) {}

	e.Stage(Change{Kind: ChangeCreate})
	_, err := e.Sync(context.Background(), storage.VectorClock{})
	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Len(t, captured.Changes, 1)
}

type captureTransport struct {
	resp    *Response
	capture **Request
}

func (c *captureTransport) Exchange(ctx context.Context, req *Request) (*Response, error) {
	*c.capture = req
	return c.resp, nil
}
