package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	health "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.ApiService/health"
	broadcast "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Broadcast"
	presence "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Presence"
)

// HealthController handles liveness and readiness requests
type HealthController struct {
	checker  *health.HealthChecker
	registry *presence.Registry
	hub      *broadcast.Hub
}

// NewHealthController creates a new health controller
func NewHealthController(checker *health.HealthChecker, registry *presence.Registry, hub *broadcast.Hub) *HealthController {
	return &HealthController{
		checker:  checker,
		registry: registry,
		hub:      hub,
	}
}

// RegisterRoutes registers the health routes with Gin
func (c *HealthController) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", c.HealthLive)
	router.GET("/health/live", c.HealthLive)
	router.GET("/health/ready", c.HealthReady)
}

func (c *HealthController) HealthLive(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"devices": c.registry.Len(),
		"viewers": c.hub.ViewerCount(),
	})
}

func (c *HealthController) HealthReady(ctx *gin.Context) {
	status := c.checker.GetHealthStatus(ctx)
	code := http.StatusOK
	if status["status"] != "ok" {
		code = http.StatusServiceUnavailable
	}
	ctx.JSON(code, status)
}
