package audit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []Record {
	t.Helper()
	var out []Record
	dec := json.NewDecoder(buf)
	for dec.More() {
		var r Record
		require.NoError(t, dec.Decode(&r))
		out = append(out, r)
	}
	return out
}

func TestEmitSynchronousFlushesImmediately(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, 16, DetectorConfig{})
	defer l.Close()

	l.Emit(Record{Event: EventAuthFailure, ClientIP: "1.2.3.4"})

	lines := strings.Count(buf.String(), "\n")
	assert.Equal(t, 1, lines, "auth.failure is flushed synchronously, before Emit returns")
}

func TestEmitAsynchronousEventuallyFlushes(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, 16, DetectorConfig{})
	defer l.Close()

	l.Emit(Record{Event: EventTokenVerified, ClientIP: "1.2.3.4"})

	require.Eventually(t, func() bool {
		return strings.Count(buf.String(), "\n") == 1
	}, time.Second, time.Millisecond)
}

func TestEmitDropsOldestWhenQueueFull(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, 1, DetectorConfig{})
	// Stop the background drain immediately so nothing consumes the
	// queue underneath this test; the drop-oldest logic is then
	// deterministic instead of racing a live goroutine.
	l.Close()

	l.Emit(Record{Event: EventTokenVerified, ClientIP: "a"})
	l.Emit(Record{Event: EventTokenVerified, ClientIP: "b"})
	l.Emit(Record{Event: EventTokenVerified, ClientIP: "c"})

	assert.Equal(t, int64(2), l.Dropped())
}

func TestDetectorRaisesPatternOnRepeatedAuthFailureAcrossAccounts(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, 16, DetectorConfig{Window: time.Minute, Threshold: 3})
	defer l.Close()

	l.Emit(Record{Event: EventAuthFailure, ClientIP: "9.9.9.9", SubjectID: "alice"})
	l.Emit(Record{Event: EventAuthFailure, ClientIP: "9.9.9.9", SubjectID: "bob"})
	l.Emit(Record{Event: EventAuthFailure, ClientIP: "9.9.9.9", SubjectID: "carol"})

	records := decodeLines(t, &buf)
	var sawPattern bool
	for _, r := range records {
		if r.Event == EventSuspiciousPattern {
			sawPattern = true
		}
	}
	assert.True(t, sawPattern, "three auth.failure events from one IP across distinct accounts should raise suspicious.pattern")
}

func TestDetectorIgnoresRepeatedFailureFromSameAccount(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, 16, DetectorConfig{Window: time.Minute, Threshold: 3})
	defer l.Close()

	for i := 0; i < 5; i++ {
		l.Emit(Record{Event: EventAuthFailure, ClientIP: "9.9.9.9", SubjectID: "alice"})
	}

	records := decodeLines(t, &buf)
	for _, r := range records {
		assert.NotEqual(t, EventSuspiciousPattern, r.Event, "repeated failure against a single account is not a multi-account pattern")
	}
}

func TestDetectorRaisesPatternOnSuccessAfterLockout(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, 16, DetectorConfig{Window: time.Minute, Threshold: 3})
	defer l.Close()

	l.Emit(Record{Event: EventAuthLockout, ClientIP: "9.9.9.9"})
	l.Emit(Record{Event: EventAuthSuccess, ClientIP: "9.9.9.9", SubjectID: "admin"})

	records := decodeLines(t, &buf)
	var sawPattern bool
	for _, r := range records {
		if r.Event == EventSuspiciousPattern {
			sawPattern = true
		}
	}
	assert.True(t, sawPattern, "an auth.success immediately after auth.lockout from the same IP is suspicious")
}
