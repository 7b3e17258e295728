package broadcast

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logger "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Logger"
	fitmodels "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Models"
	presence "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Presence"
)

// fakeConn captures text frames written by the viewer's write pump.
type fakeConn struct {
	frames chan []byte
	block  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16)}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if messageType == websocket.TextMessage {
		if c.block {
			select {} // never completes, simulates a wedged peer
		}
		c.frames <- data
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) Close() error                     { return nil }

func (c *fakeConn) nextFrame(t *testing.T) fitmodels.ServerMessage {
	t.Helper()
	select {
	case raw := <-c.frames:
		var msg struct {
			Type string                  `json:"type"`
			Data []fitmodels.DeviceState `json:"data"`
		}
		require.NoError(t, json.Unmarshal(raw, &msg))
		return fitmodels.ServerMessage{Type: msg.Type, Data: msg.Data}
	case <-time.After(time.Second):
		t.Fatal("expected a frame")
		return fitmodels.ServerMessage{}
	}
}

func newTestHub() (*Hub, *presence.Registry) {
	registry := presence.NewRegistry()
	return NewHub(registry, 5*time.Minute, 4, logger.NewNop()), registry
}

func TestAdmitSendsCurrentSnapshot(t *testing.T) {
	hub, registry := newTestHub()
	registry.UpsertDevice("hr-1", "heart_rate", "Strap", "hub-a")

	conn := newFakeConn()
	viewer := hub.Admit(conn)
	defer hub.Remove(viewer)

	msg := conn.nextFrame(t)
	assert.Equal(t, fitmodels.MessageDevices, msg.Type)
	states := msg.Data.([]fitmodels.DeviceState)
	require.Len(t, states, 1)
	assert.Equal(t, "hr-1", states[0].DeviceID)
}

func TestLateJoinerGetsOneMessageNotABacklog(t *testing.T) {
	hub, registry := newTestHub()
	registry.UpsertDevice("hr-1", "heart_rate", "Strap", "hub-a")

	// Three broadcasts happen before the viewer connects.
	hub.Broadcast()
	hub.Broadcast()
	hub.Broadcast()

	conn := newFakeConn()
	viewer := hub.Admit(conn)
	defer hub.Remove(viewer)

	conn.nextFrame(t)
	select {
	case <-conn.frames:
		t.Fatal("late joiner must receive exactly one initial frame")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcastReachesAllViewers(t *testing.T) {
	hub, registry := newTestHub()
	registry.UpsertDevice("hr-1", "heart_rate", "Strap", "hub-a")

	first, second := newFakeConn(), newFakeConn()
	v1 := hub.Admit(first)
	v2 := hub.Admit(second)
	defer hub.Remove(v1)
	defer hub.Remove(v2)
	first.nextFrame(t)
	second.nextFrame(t)

	hub.Broadcast()

	assert.Equal(t, fitmodels.MessageDevices, first.nextFrame(t).Type)
	assert.Equal(t, fitmodels.MessageDevices, second.nextFrame(t).Type)
}

func TestBroadcastOrderingPerViewer(t *testing.T) {
	hub, registry := newTestHub()
	registry.UpsertDevice("hr-1", "heart_rate", "Strap", "hub-a")

	conn := newFakeConn()
	viewer := hub.Admit(conn)
	defer hub.Remove(viewer)
	conn.nextFrame(t)

	hr := 70
	_, err := registry.ApplyReading("hr-1", fitmodels.SensorFields{HeartRate: &hr})
	require.NoError(t, err)
	hub.Broadcast()
	hr2 := 75
	_, err = registry.ApplyReading("hr-1", fitmodels.SensorFields{HeartRate: &hr2})
	require.NoError(t, err)
	hub.Broadcast()

	firstMsg := conn.nextFrame(t).Data.([]fitmodels.DeviceState)
	secondMsg := conn.nextFrame(t).Data.([]fitmodels.DeviceState)
	require.Len(t, firstMsg, 1)
	require.Len(t, secondMsg, 1)
	assert.Equal(t, 70, *firstMsg[0].Data.HeartRate)
	// The final visible state is the latest reading; no frame after this
	// one may regress.
	assert.Equal(t, 75, *secondMsg[0].Data.HeartRate)
}

func TestSlowViewerDoesNotBlockBroadcast(t *testing.T) {
	hub, registry := newTestHub()
	registry.UpsertDevice("hr-1", "heart_rate", "Strap", "hub-a")

	wedged := &fakeConn{frames: make(chan []byte), block: true}
	healthy := newFakeConn()
	v1 := hub.Admit(wedged)
	v2 := hub.Admit(healthy)
	defer hub.Remove(v1)
	defer hub.Remove(v2)
	healthy.nextFrame(t)

	// Far more frames than the wedged viewer's buffer can hold; each
	// Broadcast must still return promptly.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			hub.Broadcast()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a wedged viewer")
	}

	// The healthy viewer keeps receiving.
	assert.Equal(t, fitmodels.MessageDevices, healthy.nextFrame(t).Type)
}

func TestRemoveIsIdempotent(t *testing.T) {
	hub, _ := newTestHub()

	conn := newFakeConn()
	viewer := hub.Admit(conn)
	conn.nextFrame(t)

	hub.Remove(viewer)
	hub.Remove(viewer)

	assert.Equal(t, 0, hub.ViewerCount())
	hub.Broadcast() // no panic with an empty viewer set
}
