package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.ApiService/health"
	config "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Config"
	logger "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Logger"
	implementation "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Repository/Implementation"
	interfaces "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Repository/Interfaces"
)

// Container manages dependencies and their lifecycle for the relay
// service. The database connection and everything built on it are
// created lazily on first use.
type Container struct {
	config *config.Config
	logger *logger.Logger
	db     *sql.DB

	// Health components
	healthChecker   *health.HealthChecker
	databaseManager *health.DatabaseManager

	// Repositories
	deviceRepo  interfaces.DeviceRepository
	readingRepo interfaces.ReadingRepository

	// Mutex for thread-safe access
	mu sync.RWMutex

	// Cleanup functions
	cleanupFuncs []func() error
}

// BridgeContainer manages dependencies for the MQTT bridge service
type BridgeContainer struct {
	config *config.IngestorConfig
	logger *logger.Logger
}

// NewContainer creates a new dependency injection container
func NewContainer() (*Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.NewLogger(&cfg.Logging)

	container := &Container{
		config: cfg,
		logger: log,
	}
	container.registerCleanup()

	return container, nil
}

// NewBridgeContainer creates a new container for the MQTT bridge service
func NewBridgeContainer() (*BridgeContainer, error) {
	cfg, err := config.LoadIngestorConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load bridge configuration: %w", err)
	}

	log := logger.NewLogger(&cfg.Logging)

	return &BridgeContainer{
		config: cfg,
		logger: log,
	}, nil
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetConfig returns the bridge configuration
func (c *BridgeContainer) GetConfig() *config.IngestorConfig {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

// GetLogger returns the logger
func (c *BridgeContainer) GetLogger() *logger.Logger {
	return c.logger
}

// GetDatabase returns the database connection
func (c *Container) GetDatabase() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		db, err := health.ConnectPostgresWithTimeout(c.config, 20*time.Second)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.db = db
	}

	return c.db, nil
}

// GetHealthChecker returns the health checker
func (c *Container) GetHealthChecker() (*health.HealthChecker, error) {
	c.mu.RLock()
	if c.healthChecker != nil {
		defer c.mu.RUnlock()
		return c.healthChecker, nil
	}
	c.mu.RUnlock()

	// Get database without holding the lock to avoid deadlock
	db, err := c.GetDatabase()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for health checker: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.healthChecker == nil {
		c.healthChecker = health.NewHealthChecker(db)
	}
	return c.healthChecker, nil
}

// GetDatabaseManager returns the database manager
func (c *Container) GetDatabaseManager() (*health.DatabaseManager, error) {
	c.mu.RLock()
	if c.databaseManager != nil {
		defer c.mu.RUnlock()
		return c.databaseManager, nil
	}
	c.mu.RUnlock()

	db, err := c.GetDatabase()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for database manager: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.databaseManager == nil {
		c.databaseManager = health.NewDatabaseManager(db)
	}
	return c.databaseManager, nil
}

// GetDeviceRepository returns the device repository
func (c *Container) GetDeviceRepository() (interfaces.DeviceRepository, error) {
	c.mu.RLock()
	if c.deviceRepo != nil {
		defer c.mu.RUnlock()
		return c.deviceRepo, nil
	}
	c.mu.RUnlock()

	db, err := c.GetDatabase()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for device repository: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deviceRepo == nil {
		c.deviceRepo = implementation.NewPostgresDeviceRepository(db)
	}
	return c.deviceRepo, nil
}

// GetReadingRepository returns the reading repository
func (c *Container) GetReadingRepository() (interfaces.ReadingRepository, error) {
	c.mu.RLock()
	if c.readingRepo != nil {
		defer c.mu.RUnlock()
		return c.readingRepo, nil
	}
	c.mu.RUnlock()

	db, err := c.GetDatabase()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for reading repository: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readingRepo == nil {
		c.readingRepo = implementation.NewPostgresReadingRepository(db)
	}
	return c.readingRepo, nil
}

// InitializeDatabase initializes the database and creates tables
func (c *Container) InitializeDatabase(ctx context.Context) error {
	dbManager, err := c.GetDatabaseManager()
	if err != nil {
		return fmt.Errorf("failed to get database manager: %w", err)
	}

	if err := dbManager.CreateTables(ctx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	c.logger.Info("Database initialized successfully")
	return nil
}

// Shutdown gracefully shuts down the container and all its dependencies
func (c *Container) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	// Execute cleanup functions in reverse order
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	c.logger.Info("Container shutdown complete")
	return nil
}

// Shutdown gracefully shuts down the bridge container
func (c *BridgeContainer) Shutdown(ctx context.Context) error {
	c.logger.Info("Bridge container shutdown complete")
	return nil
}

// registerCleanup registers cleanup functions
func (c *Container) registerCleanup() {
	c.cleanupFuncs = append(c.cleanupFuncs, func() error {
		if c.db != nil {
			return c.db.Close()
		}
		return nil
	})
}

// AddCleanupFunc adds a cleanup function
func (c *Container) AddCleanupFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
