package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the deadline for a single frame write.
	writeWait = 10 * time.Second
	// pingPeriod must be shorter than the read deadline viewers apply.
	pingPeriod = 54 * time.Second
)

// Conn is the subset of *websocket.Conn the hub writes to. Narrowed so
// tests can observe frames without a network connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Viewer is one admitted push-channel connection. All writes to the
// underlying connection go through the send buffer and the write pump,
// never directly, so a slow viewer can only ever cost itself frames.
type Viewer struct {
	ID string

	conn      Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// enqueue offers a frame to the viewer without blocking. It reports
// false when the viewer is closed or its buffer is full and the frame
// was dropped. Safe to call concurrently with close.
func (v *Viewer) enqueue(msg []byte) bool {
	select {
	case <-v.done:
		return false
	case v.send <- msg:
		return true
	default:
		return false
	}
}

// Send offers a single direct reply to this viewer, subject to the same
// non-blocking buffer as broadcast frames. It reports false when the
// frame was dropped.
func (v *Viewer) Send(msg []byte) bool {
	return v.enqueue(msg)
}

// close signals the write pump to stop. Idempotent.
func (v *Viewer) close() {
	v.closeOnce.Do(func() {
		close(v.done)
	})
}

// writePump drains the send buffer onto the connection and keeps the
// connection alive with pings. It owns all connection writes; it exits
// when the viewer is closed or a write fails.
func (v *Viewer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case <-v.done:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			v.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
