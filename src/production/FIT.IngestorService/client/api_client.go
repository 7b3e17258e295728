package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	fitmodels "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Models"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

// CircuitBreaker implements circuit breaker pattern for resilience
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	state        CircuitBreakerState
	failureCount int
	lastFailTime time.Time
	mutex        sync.RWMutex
}

// APIClient handles communication with the relay service
type APIClient struct {
	baseURL        string
	httpClient     *http.Client
	apiSecret      string
	circuitBreaker *CircuitBreaker
	maxRetries     int
	retryDelay     time.Duration
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL, apiSecret string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		apiSecret: apiSecret,
		circuitBreaker: &CircuitBreaker{
			maxFailures:  5,
			resetTimeout: 30 * time.Second,
			state:        StateClosed,
		},
		maxRetries: 3,
		retryDelay: 1 * time.Second,
	}
}

// RegisterDeviceRequest represents the request to register a device
type RegisterDeviceRequest struct {
	DeviceID   string `json:"deviceId"`
	DeviceType string `json:"deviceType"`
	Name       string `json:"name"`
}

// BatchReading is one reading in a batch forward
type BatchReading struct {
	DeviceID string `json:"deviceId"`
	fitmodels.SensorFields
}

// CreateReadingsBatchRequest represents the batch forward request
type CreateReadingsBatchRequest struct {
	Readings []BatchReading `json:"readings"`
}

// Circuit breaker methods
func (cb *CircuitBreaker) canExecute() bool {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		return time.Since(cb.lastFailTime) > cb.resetTimeout
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount = 0
	cb.state = StateClosed
}

func (cb *CircuitBreaker) onFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount++
	cb.lastFailTime = time.Now()

	if cb.failureCount >= cb.maxFailures {
		cb.state = StateOpen
	}
}

// retryWithBackoff executes a function with exponential backoff retry logic
func (c *APIClient) retryWithBackoff(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if !c.circuitBreaker.canExecute() {
			return fmt.Errorf("circuit breaker is open")
		}

		err := operation()
		if err == nil {
			c.circuitBreaker.onSuccess()
			return nil
		}

		lastErr = err
		c.circuitBreaker.onFailure()

		if attempt == c.maxRetries {
			break
		}

		delay := time.Duration(float64(c.retryDelay) * math.Pow(2, float64(attempt)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// RegisterDevice registers a device with the relay so it shows up in
// the live view before its first reading lands.
func (c *APIClient) RegisterDevice(ctx context.Context, deviceID, deviceType, name string) error {
	return c.retryWithBackoff(ctx, func() error {
		req := RegisterDeviceRequest{
			DeviceID:   deviceID,
			DeviceType: deviceType,
			Name:       name,
		}

		resp, err := c.makeRequest(ctx, "POST", "/devices", req)
		if err != nil {
			return fmt.Errorf("failed to register device: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
		}
		return nil
	})
}

// CreateReadingsBatch forwards a batch of readings to the relay's
// internal ingest surface.
func (c *APIClient) CreateReadingsBatch(ctx context.Context, readings []BatchReading) error {
	if len(readings) == 0 {
		return nil
	}

	return c.retryWithBackoff(ctx, func() error {
		req := CreateReadingsBatchRequest{Readings: readings}

		resp, err := c.makeRequest(ctx, "POST", "/internal/readings/batch", req)
		if err != nil {
			return fmt.Errorf("failed to forward readings batch: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
		}
		return nil
	})
}

// makeRequest makes an HTTP request to the relay service
func (c *APIClient) makeRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Service-to-service authentication
	req.Header.Set("Authorization", "Bearer "+c.apiSecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "fitness-mqtt-bridge")

	return c.httpClient.Do(req)
}

// Health checks if the relay service is healthy
func (c *APIClient) Health(ctx context.Context) error {
	resp, err := c.makeRequest(ctx, "GET", "/health/live", nil)
	if err != nil {
		return fmt.Errorf("failed to check relay health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay health check failed with status %d", resp.StatusCode)
	}

	return nil
}

// GetCircuitBreakerStatus returns the current circuit breaker status for monitoring
func (c *APIClient) GetCircuitBreakerStatus() map[string]interface{} {
	c.circuitBreaker.mutex.RLock()
	defer c.circuitBreaker.mutex.RUnlock()

	stateStr := "unknown"
	switch c.circuitBreaker.state {
	case StateClosed:
		stateStr = "closed"
	case StateOpen:
		stateStr = "open"
	case StateHalfOpen:
		stateStr = "half-open"
	}

	return map[string]interface{}{
		"state":         stateStr,
		"failure_count": c.circuitBreaker.failureCount,
		"max_failures":  c.circuitBreaker.maxFailures,
		"reset_timeout": c.circuitBreaker.resetTimeout,
	}
}
