package api

import (
	"testing"
	"time"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/bus"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeStructPayload(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	env, err := envelope("main", bus.Event{
		Kind:      bus.KindNetworkChanged,
		Timestamp: at,
		Payload:   status.StatusChange{From: status.Offline, To: status.Online},
	})
	require.NoError(t, err)
	assert.Equal(t, at.UnixMilli(), env.OccurredAtUnixMs)

	m := env.Payload.AsMap()
	assert.Equal(t, "ONLINE", m["to"])
	assert.Equal(t, "OFFLINE", m["from"])
}

func TestEncodePayloadScalarAndNil(t *testing.T) {
	st, err := encodePayload(42)
	require.NoError(t, err)
	assert.Equal(t, float64(42), st.AsMap()["value"])

	st, err = encodePayload(nil)
	require.NoError(t, err)
	assert.Empty(t, st.AsMap())
}

func TestMatchNamespace(t *testing.T) {
	assert.True(t, matchNamespace("sync.completed", nil))
	assert.True(t, matchNamespace("sync.completed", []string{"queue.", "sync."}))
	assert.False(t, matchNamespace("network.status_changed", []string{"message."}))
}
