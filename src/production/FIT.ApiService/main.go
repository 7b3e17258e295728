package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.ApiService/controllers"
	broadcast "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Broadcast"
	container "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Container"
	ingest "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Ingest"
	presence "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Presence"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	logger.Info("Starting Relay Service")

	// Initialize database
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := ctr.InitializeDatabase(ctx); err != nil {
		logger.FatalWithError(err, "Failed to initialize database")
	}

	// Create repositories
	deviceRepo, err := ctr.GetDeviceRepository()
	if err != nil {
		logger.FatalWithError(err, "Failed to create device repository")
	}
	readingRepo, err := ctr.GetReadingRepository()
	if err != nil {
		logger.FatalWithError(err, "Failed to create reading repository")
	}
	healthChecker, err := ctr.GetHealthChecker()
	if err != nil {
		logger.FatalWithError(err, "Failed to create health checker")
	}

	// Get configuration
	config := ctr.GetConfig()

	// Live state: presence registry, broadcast hub, ingest pipeline
	registry := presence.NewRegistry()
	hub := broadcast.NewHub(registry, config.Relay.FreshnessWindow, config.Relay.ViewerSendBuffer, logger)
	pipeline := ingest.NewPipeline(registry, deviceRepo, readingRepo, hub, config.Relay.StoreTimeout, logger)

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Configure CORS from config
	corsConfig := cors.Config{
		AllowOrigins:     config.CORS.AllowedOrigins,
		AllowMethods:     config.CORS.AllowedMethods,
		AllowHeaders:     config.CORS.AllowedHeaders,
		ExposeHeaders:    config.CORS.ExposedHeaders,
		AllowCredentials: config.CORS.AllowCredentials,
		MaxAge:           time.Duration(config.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	// Create controllers and register routes
	deviceController := controllers.NewDeviceController(deviceRepo, readingRepo, pipeline, config.Relay.FreshnessWindow, logger)
	streamController := controllers.NewStreamController(hub, pipeline, deviceRepo, config.Relay.FreshnessWindow, logger)
	internalController := controllers.NewInternalController(readingRepo, pipeline, config.Relay.InternalAPISecret, logger)
	healthController := controllers.NewHealthController(healthChecker, registry, hub)

	deviceController.RegisterRoutes(router)
	streamController.RegisterRoutes(router)
	internalController.RegisterRoutes(router)
	healthController.RegisterRoutes(router)

	// Get port from configuration
	port := config.Server.Port

	// Create HTTP server with timeouts. Write timeout stays off the
	// push channel: the upgrader clears connection deadlines on hijack.
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("HTTP server starting on port " + port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalWithError(err, "Failed to start HTTP server")
		}
	}()

	logger.Info("Relay service running... press Ctrl+C to stop")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Server forced to shutdown")
	}

	// Let detached reading writes finish before the database closes.
	pipeline.Drain()
}
