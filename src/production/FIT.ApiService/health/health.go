package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	config "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Config"
)

// HealthChecker provides health check functionality
type HealthChecker struct {
	db *sql.DB
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(db *sql.DB) *HealthChecker {
	return &HealthChecker{db: db}
}

// PingPostgres checks if the PostgreSQL connection is healthy
func (h *HealthChecker) PingPostgres(ctx context.Context) error {
	if h.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return h.db.PingContext(ctx)
}

// CheckDatabaseHealth performs a comprehensive database health check
func (h *HealthChecker) CheckDatabaseHealth(ctx context.Context) error {
	if err := h.PingPostgres(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}

	return nil
}

// GetHealthStatus returns the current health status
func (h *HealthChecker) GetHealthStatus(ctx context.Context) map[string]interface{} {
	checks := make(map[string]interface{})
	status := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}

	dbStatus := "ok"
	if err := h.CheckDatabaseHealth(ctx); err != nil {
		dbStatus = "error"
		checks["postgres"] = map[string]interface{}{
			"status": dbStatus,
			"error":  err.Error(),
		}
	} else {
		checks["postgres"] = map[string]interface{}{
			"status": dbStatus,
		}
	}

	overallStatus := "ok"
	if dbStatus != "ok" {
		overallStatus = "degraded"
	}
	status["status"] = overallStatus

	return status
}

// DatabaseManager handles schema bootstrap
type DatabaseManager struct {
	db *sql.DB
}

// NewDatabaseManager creates a new database manager
func NewDatabaseManager(db *sql.DB) *DatabaseManager {
	return &DatabaseManager{db: db}
}

// ConnectPostgresWithTimeout creates a PostgreSQL connection with a timeout context
func ConnectPostgresWithTimeout(cfg *config.Config, timeout time.Duration) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to open PostgreSQL connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MinConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// CreateTables creates the required tables if they don't exist
func (dm *DatabaseManager) CreateTables(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	createDevicesTable := `
		CREATE TABLE IF NOT EXISTS devices (
			device_id TEXT PRIMARY KEY,
			device_type TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			connected BOOLEAN NOT NULL DEFAULT false,
			last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := dm.db.ExecContext(ctx, createDevicesTable); err != nil {
		return fmt.Errorf("failed to create devices table: %w", err)
	}

	createReadingsTable := `
		CREATE TABLE IF NOT EXISTS readings (
			id BIGSERIAL PRIMARY KEY,
			device_id TEXT NOT NULL,
			heart_rate INTEGER,
			cadence INTEGER,
			power INTEGER,
			speed DOUBLE PRECISION,
			jumps INTEGER,
			battery INTEGER,
			extras JSONB,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := dm.db.ExecContext(ctx, createReadingsTable); err != nil {
		return fmt.Errorf("failed to create readings table: %w", err)
	}

	createReadingsIndex := `
		CREATE INDEX IF NOT EXISTS idx_readings_device_ts
		ON readings (device_id, timestamp DESC)
	`
	if _, err := dm.db.ExecContext(ctx, createReadingsIndex); err != nil {
		return fmt.Errorf("failed to create readings index: %w", err)
	}

	return nil
}
