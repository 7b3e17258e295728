package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	container "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Container"
	"gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.IngestorService/client"
	fitingestor "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.IngestorService/ingestor"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewBridgeContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	logger.Info("Starting MQTT Bridge Service")

	// Get configuration
	config := ctr.GetConfig()

	// Create API client for the relay
	apiClient := client.NewAPIClient(config.RelayURL, config.InternalAPISecret)

	// Create and start the bridge
	ing := fitingestor.New(config, apiClient, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ing.Start(ctx); err != nil {
		logger.FatalWithError(err, "Failed to start MQTT bridge")
	}
	defer ing.Stop()

	// Start health check server
	go startHealthServer(ctr, ing, apiClient)

	logger.Info("MQTT bridge running... press Ctrl+C to stop")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")
}

// startHealthServer starts a simple HTTP server for health checks
func startHealthServer(ctr *container.BridgeContainer, ing *fitingestor.Ingestor, apiClient *client.APIClient) {
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		mqttStatus := "disconnected"
		if ing.IsConnected() {
			mqttStatus = "connected"
		}

		relayStatus := "disconnected"
		if err := apiClient.Health(ctx); err == nil {
			relayStatus = "connected"
		}

		status := "healthy"
		if mqttStatus != "connected" || relayStatus != "connected" {
			status = "unhealthy"
		}

		w.Header().Set("Content-Type", "application/json")
		if status == "healthy" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		circuitBreakerStatus := apiClient.GetCircuitBreakerStatus()

		fmt.Fprintf(w, `{
			"status": "%s",
			"timestamp": "%s",
			"services": {
				"mqtt": "%s",
				"relay": "%s"
			},
			"circuit_breaker": {
				"state": "%s",
				"failure_count": %d
			}
		}`, status, time.Now().UTC().Format(time.RFC3339), mqttStatus, relayStatus,
			circuitBreakerStatus["state"], circuitBreakerStatus["failure_count"])
	})

	logger := ctr.GetLogger()
	port := os.Getenv("BRIDGE_HEALTH_PORT")
	if port == "" {
		port = "9001"
	}
	logger.Info("Health server starting on port " + port)

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		logger.FatalWithError(err, "Failed to start health server")
	}
}
