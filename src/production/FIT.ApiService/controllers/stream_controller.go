package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	broadcast "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Broadcast"
	ingest "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Ingest"
	logger "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Logger"
	fitmodels "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Models"
	interfaces "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Repository/Interfaces"
)

const (
	pongWait       = 60 * time.Second
	maxMessageSize = 8 * 1024
)

// StreamController serves the shared push channel. Hubs and viewers
// connect to the same endpoint: every connection is admitted as a
// viewer (and immediately receives the current snapshot), and inbound
// frames are fed to the ingest pipeline.
type StreamController struct {
	hub             *broadcast.Hub
	pipeline        *ingest.Pipeline
	deviceRepo      interfaces.DeviceRepository
	freshnessWindow time.Duration
	logger          *logger.Logger
	upgrader        websocket.Upgrader
}

// NewStreamController creates a new stream controller
func NewStreamController(
	hub *broadcast.Hub,
	pipeline *ingest.Pipeline,
	deviceRepo interfaces.DeviceRepository,
	window time.Duration,
	log *logger.Logger,
) *StreamController {
	return &StreamController{
		hub:             hub,
		pipeline:        pipeline,
		deviceRepo:      deviceRepo,
		freshnessWindow: window,
		logger:          log.WithComponent("stream_controller"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Viewers connect from app webviews and local tooling; origin
			// enforcement is handled upstream.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers the push channel route with Gin
func (c *StreamController) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws", c.Serve)
}

func (c *StreamController) Serve(ctx *gin.Context) {
	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.logger.ErrorWithError(err, "WebSocket upgrade failed")
		return
	}

	viewer := c.hub.Admit(conn)
	defer c.hub.Remove(viewer)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).WithField("viewer_id", viewer.ID).Debug("Connection closed unexpectedly")
			}
			return
		}

		ev, err := fitmodels.DecodeEvent(raw)
		if err != nil {
			c.logger.WithError(err).Warn("Malformed push-channel frame, ignoring")
			continue
		}

		if ev.Type == fitmodels.EventGetConnectedDevices {
			c.replyConnectedDevices(ctx, viewer)
			continue
		}

		c.pipeline.Handle(ctx.Request.Context(), ev)
	}
}

// replyConnectedDevices answers a viewer poll from the durable store,
// applying the same freshness window as the snapshot path.
func (c *StreamController) replyConnectedDevices(ctx *gin.Context, viewer *broadcast.Viewer) {
	connected := true
	devices, err := c.deviceRepo.ListDevicesWithLatest(ctx, interfaces.DeviceFilter{
		Connected:       &connected,
		FreshnessWindow: c.freshnessWindow,
	})
	if err != nil {
		c.logger.ErrorWithError(err, "Failed to query connected devices")
		return
	}
	if devices == nil {
		devices = []fitmodels.DeviceWithLatestReading{}
	}

	msg, err := json.Marshal(fitmodels.ServerMessage{
		Type: fitmodels.MessageConnectedDevices,
		Data: devices,
	})
	if err != nil {
		c.logger.ErrorWithError(err, "Failed to serialize connected devices reply")
		return
	}
	viewer.Send(msg)
}
