package fitmodels

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEventKeepsWellFormedFieldsOnTypeError(t *testing.T) {
	raw := []byte(`{"type":"device_data","deviceId":"hr-1","heartRate":"garbled","battery":50}`)

	ev, err := DecodeEvent(raw)
	require.NoError(t, err)

	assert.Equal(t, EventDeviceData, ev.Type)
	assert.Equal(t, "hr-1", ev.DeviceID)
	// The wrong-typed field is null, not a frame failure.
	assert.Nil(t, ev.HeartRate)
	require.NotNil(t, ev.Battery)
	assert.Equal(t, 50, *ev.Battery)
}

func TestDecodeEventRejectsInvalidJSON(t *testing.T) {
	_, err := DecodeEvent([]byte("not json"))
	require.Error(t, err)
}

func TestDecodeEventFullFrame(t *testing.T) {
	raw := []byte(`{"type":"hub_connect","hubId":"hub-a","deviceId":"hr-1","deviceType":"heart_rate","name":"Strap"}`)

	ev, err := DecodeEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, EventHubConnect, ev.Type)
	assert.Equal(t, "hub-a", ev.HubID)
	assert.Equal(t, "heart_rate", ev.DeviceType)
	assert.Equal(t, "Strap", ev.Name)
}
