package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	ingest "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Ingest"
	logger "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Logger"
	fitmodels "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Models"
	interfaces "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Repository/Interfaces"
)

const defaultListLimit = 100

// DeviceController serves the device query and registration endpoints.
// List queries go to the durable store rather than the in-memory
// registry so results stay consistent across process restarts.
type DeviceController struct {
	deviceRepo      interfaces.DeviceRepository
	readingRepo     interfaces.ReadingRepository
	pipeline        *ingest.Pipeline
	freshnessWindow time.Duration
	logger          *logger.Logger
}

// NewDeviceController creates a new device controller
func NewDeviceController(
	deviceRepo interfaces.DeviceRepository,
	readingRepo interfaces.ReadingRepository,
	pipeline *ingest.Pipeline,
	window time.Duration,
	log *logger.Logger,
) *DeviceController {
	return &DeviceController{
		deviceRepo:      deviceRepo,
		readingRepo:     readingRepo,
		pipeline:        pipeline,
		freshnessWindow: window,
		logger:          log.WithComponent("device_controller"),
	}
}

// RegisterRoutes registers the device routes with Gin
func (c *DeviceController) RegisterRoutes(router *gin.Engine) {
	devices := router.Group("/devices")
	{
		devices.GET("", c.ListDevices)
		devices.POST("", c.RegisterDevice)
		devices.GET("/:id/data", c.GetReadingHistory)
		devices.POST("/:id/data", c.RecordReading)
	}
}

func (c *DeviceController) ListDevices(ctx *gin.Context) {
	filter := interfaces.DeviceFilter{
		DeviceType:      ctx.Query("type"),
		FreshnessWindow: c.freshnessWindow,
		Limit:           queryLimit(ctx, defaultListLimit),
	}
	if raw := ctx.Query("connected"); raw != "" {
		connected, err := strconv.ParseBool(raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid connected filter"})
			return
		}
		filter.Connected = &connected
	}

	devices, err := c.deviceRepo.ListDevicesWithLatest(ctx, filter)
	if err != nil {
		c.logger.ErrorWithError(err, "Failed to list devices")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch devices"})
		return
	}
	if devices == nil {
		devices = []fitmodels.DeviceWithLatestReading{}
	}

	ctx.JSON(http.StatusOK, devices)
}

type RegisterDeviceRequest struct {
	DeviceID   string `json:"deviceId" binding:"required"`
	DeviceType string `json:"deviceType" binding:"required"`
	Name       string `json:"name" binding:"required"`
}

func (c *DeviceController) RegisterDevice(ctx *gin.Context) {
	var req RegisterDeviceRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stored, err := c.deviceRepo.UpsertDevice(ctx, fitmodels.Device{
		DeviceID:   req.DeviceID,
		DeviceType: req.DeviceType,
		Name:       req.Name,
	})
	if err != nil {
		c.logger.ErrorWithError(err, "Failed to register device")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register device"})
		return
	}

	// Registration also enters the live view so readings arriving over
	// the internal batch path broadcast without a hub_connect frame.
	c.pipeline.ConnectLive(req.DeviceID, req.DeviceType, req.Name, "")

	ctx.JSON(http.StatusCreated, stored)
}

func (c *DeviceController) GetReadingHistory(ctx *gin.Context) {
	deviceID := ctx.Param("id")
	limit := queryLimit(ctx, defaultListLimit)

	readings, err := c.readingRepo.GetReadingsByDevice(ctx, deviceID, limit)
	if err != nil {
		c.logger.ErrorWithError(err, "Failed to fetch readings")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch device data"})
		return
	}
	if readings == nil {
		readings = []fitmodels.Reading{}
	}

	ctx.JSON(http.StatusOK, readings)
}

func (c *DeviceController) RecordReading(ctx *gin.Context) {
	deviceID := ctx.Param("id")

	var fields fitmodels.SensorFields
	if err := ctx.ShouldBindJSON(&fields); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Persist first: readings are accepted even for devices the presence
	// registry has never seen.
	stored, err := c.readingRepo.InsertReading(ctx, fitmodels.Reading{
		DeviceID:     deviceID,
		SensorFields: fields,
	})
	if err != nil {
		c.logger.ErrorWithError(err, "Failed to insert reading")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record reading"})
		return
	}

	c.pipeline.ApplyLive(deviceID, fields)

	ctx.JSON(http.StatusCreated, stored)
}

func queryLimit(ctx *gin.Context, fallback int) int {
	limit, err := strconv.Atoi(ctx.DefaultQuery("limit", strconv.Itoa(fallback)))
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
