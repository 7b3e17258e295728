package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	middleware "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.ApiService/middleware"
	ingest "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Ingest"
	logger "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Logger"
	fitmodels "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Models"
	interfaces "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Repository/Interfaces"
)

// maxBatchSize bounds a single bridge flush.
const maxBatchSize = 1000

// InternalController serves the service-to-service ingest surface used
// by the MQTT bridge. Routes are guarded by the shared-secret
// middleware and are not part of the public API.
type InternalController struct {
	readingRepo interfaces.ReadingRepository
	pipeline    *ingest.Pipeline
	apiSecret   string
	logger      *logger.Logger
}

// NewInternalController creates a new internal controller
func NewInternalController(
	readingRepo interfaces.ReadingRepository,
	pipeline *ingest.Pipeline,
	apiSecret string,
	log *logger.Logger,
) *InternalController {
	return &InternalController{
		readingRepo: readingRepo,
		pipeline:    pipeline,
		apiSecret:   apiSecret,
		logger:      log.WithComponent("internal_controller"),
	}
}

// RegisterRoutes registers the internal routes with Gin
func (c *InternalController) RegisterRoutes(router *gin.Engine) {
	internal := router.Group("/internal")
	internal.Use(middleware.ServiceAuthMiddleware(c.apiSecret))
	{
		internal.POST("/readings/batch", c.CreateReadingsBatch)
	}
}

type BatchReadingInput struct {
	DeviceID string `json:"deviceId" binding:"required"`
	fitmodels.SensorFields
}

type BatchReadingsRequest struct {
	Readings []BatchReadingInput `json:"readings" binding:"required,min=1"`
}

// CreateReadingsBatch bulk-inserts a bridge flush and then replays each
// reading through the live path so tracked devices stay current. The
// durable write covers the whole batch; live state only moves for
// devices the registry already tracks.
func (c *InternalController) CreateReadingsBatch(ctx *gin.Context) {
	var req BatchReadingsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Readings) > maxBatchSize {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "batch too large"})
		return
	}

	readings := make([]fitmodels.Reading, 0, len(req.Readings))
	for _, in := range req.Readings {
		readings = append(readings, fitmodels.Reading{
			DeviceID:     in.DeviceID,
			SensorFields: in.SensorFields,
		})
	}

	if err := c.readingRepo.InsertReadings(ctx, readings); err != nil {
		c.logger.ErrorWithError(err, "Failed to insert readings batch")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store readings"})
		return
	}

	applied := 0
	for _, in := range req.Readings {
		if c.pipeline.ApplyLive(in.DeviceID, in.SensorFields) {
			applied++
		}
	}

	c.logger.WithField("stored", len(readings)).WithField("applied_live", applied).Debug("Readings batch accepted")
	ctx.JSON(http.StatusCreated, gin.H{"stored": len(readings), "appliedLive": applied})
}
