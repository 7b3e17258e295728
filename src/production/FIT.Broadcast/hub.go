package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	logger "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Logger"
	fitmodels "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Models"
	presence "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Presence"
)

// Hub fans the presence snapshot out to every admitted viewer. Each
// broadcast serializes the snapshot once and enqueues the same frame on
// every viewer's buffer; enqueueing never blocks, so one stalled viewer
// cannot hold up the ingest path. Delivery is at-most-once: a viewer
// that reconnects gets the snapshot current at reconnect time, never a
// backlog.
type Hub struct {
	registry   *presence.Registry
	window     time.Duration
	sendBuffer int
	logger     *logger.Logger

	mu      sync.RWMutex
	viewers map[*Viewer]struct{}
}

// NewHub creates a hub over the given registry. window is the presence
// freshness window applied to every snapshot, sendBuffer the per-viewer
// outbound frame buffer.
func NewHub(registry *presence.Registry, window time.Duration, sendBuffer int, log *logger.Logger) *Hub {
	return &Hub{
		registry:   registry,
		window:     window,
		sendBuffer: sendBuffer,
		logger:     log.WithComponent("broadcast"),
		viewers:    make(map[*Viewer]struct{}),
	}
}

// Admit registers a connection as a viewer, starts its write pump, and
// immediately sends it the current full snapshot so a late joiner does
// not have to wait for the next event.
func (h *Hub) Admit(conn Conn) *Viewer {
	viewer := &Viewer{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.viewers[viewer] = struct{}{}
	count := len(h.viewers)
	h.mu.Unlock()

	go viewer.writePump()

	if msg, err := h.snapshotMessage(); err != nil {
		h.logger.ErrorWithError(err, "Failed to serialize initial snapshot")
	} else {
		viewer.enqueue(msg)
	}

	h.logger.WithField("viewer_id", viewer.ID).WithField("viewers", count).Info("Viewer connected")
	return viewer
}

// Remove drops a viewer from the set and ends its write pump. Safe to
// call more than once and during a concurrent broadcast.
func (h *Hub) Remove(viewer *Viewer) {
	h.mu.Lock()
	_, present := h.viewers[viewer]
	delete(h.viewers, viewer)
	count := len(h.viewers)
	h.mu.Unlock()

	viewer.close()
	if present {
		h.logger.WithField("viewer_id", viewer.ID).WithField("viewers", count).Info("Viewer disconnected")
	}
}

// Broadcast pushes the current snapshot to every admitted viewer. The
// frame is serialized once; viewers whose buffers are full miss this
// frame and catch up on the next one.
func (h *Hub) Broadcast() {
	msg, err := h.snapshotMessage()
	if err != nil {
		h.logger.ErrorWithError(err, "Failed to serialize snapshot")
		return
	}

	h.mu.RLock()
	viewers := make([]*Viewer, 0, len(h.viewers))
	for viewer := range h.viewers {
		viewers = append(viewers, viewer)
	}
	h.mu.RUnlock()

	for _, viewer := range viewers {
		if !viewer.enqueue(msg) {
			h.logger.WithField("viewer_id", viewer.ID).Debug("Viewer buffer full, frame dropped")
		}
	}
}

// ViewerCount returns the number of currently admitted viewers.
func (h *Hub) ViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

func (h *Hub) snapshotMessage() ([]byte, error) {
	return json.Marshal(fitmodels.ServerMessage{
		Type: fitmodels.MessageDevices,
		Data: h.registry.Snapshot(h.window),
	})
}
