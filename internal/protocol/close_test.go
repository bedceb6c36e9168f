package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseCodeWireRoundTrip(t *testing.T) {
	for _, code := range []CloseCode{CloseTimeout, CloseExpired, CloseFingerprintCanceled} {
		got, ok := CloseCodeFromWire(code.Wire())
		require.True(t, ok, "wire code %d must map back", code.Wire())
		assert.Equal(t, code, got)
	}
}

func TestCloseCodeWireRange(t *testing.T) {
	// RFC 6455 reserves 4000-4999 for private use; the taxonomy must stay
	// inside it.
	for _, code := range []CloseCode{CloseTimeout, CloseExpired, CloseFingerprintCanceled} {
		assert.GreaterOrEqual(t, code.Wire(), 4000)
		assert.LessOrEqual(t, code.Wire(), 4999)
	}
}

func TestCloseCodeFromWireRejectsUnknown(t *testing.T) {
	for _, wire := range []int{1000, 1006, 4000, 4004, 0} {
		_, ok := CloseCodeFromWire(wire)
		assert.False(t, ok, "wire code %d must not map", wire)
	}
}

func TestCloseReasons(t *testing.T) {
	assert.Equal(t, "Connection timeout", CloseTimeout.Reason())
	assert.Equal(t, "Connection expired", CloseExpired.Reason())
	assert.Equal(t, "Fingerprint canceled", CloseFingerprintCanceled.Reason())
	assert.Equal(t, "Connection closed", CloseCode(99).Reason())
}

func TestMessageOmitsUnrelatedFields(t *testing.T) {
	raw, err := json.Marshal(Hello(20*time.Second, 5*time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"hello","timeout":20000,"heartbeatInterval":5000}`, string(raw))

	raw, err = json.Marshal(PendingLogin("ticket-1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"pending_login","ticket":"ticket-1"}`, string(raw))

	raw, err = json.Marshal(Cancel())
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"cancel"}`, string(raw))
}
