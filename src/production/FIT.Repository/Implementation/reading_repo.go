package implementation

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	fitmodels "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Models"
)

type PostgresReadingRepository struct {
	db *sql.DB
}

func NewPostgresReadingRepository(db *sql.DB) *PostgresReadingRepository {
	return &PostgresReadingRepository{db: db}
}

func (r *PostgresReadingRepository) InsertReading(ctx context.Context, reading fitmodels.Reading) (*fitmodels.Reading, error) {
	query := `
		INSERT INTO readings (device_id, heart_rate, cadence, power, speed, jumps, battery, extras)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, timestamp
	`

	extras, err := reading.ExtrasJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extras: %w", err)
	}

	stored := reading
	err = r.db.QueryRowContext(ctx, query,
		reading.DeviceID,
		nullInt(reading.HeartRate), nullInt(reading.Cadence), nullInt(reading.Power),
		nullFloat(reading.Speed), nullInt(reading.Jumps), nullInt(reading.Battery),
		extras,
	).Scan(&stored.ID, &stored.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to insert reading for %s: %w", reading.DeviceID, err)
	}

	return &stored, nil
}

func (r *PostgresReadingRepository) InsertReadings(ctx context.Context, readings []fitmodels.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	stmt, err := txn.Prepare(pq.CopyIn("readings",
		"device_id", "heart_rate", "cadence", "power", "speed", "jumps", "battery", "extras"))
	if err != nil {
		return err
	}

	for _, reading := range readings {
		extras, err := reading.ExtrasJSON()
		if err != nil {
			return fmt.Errorf("failed to marshal extras: %w", err)
		}

		_, err = stmt.Exec(
			reading.DeviceID,
			nullInt(reading.HeartRate), nullInt(reading.Cadence), nullInt(reading.Power),
			nullFloat(reading.Speed), nullInt(reading.Jumps), nullInt(reading.Battery),
			extras,
		)
		if err != nil {
			return err
		}
	}

	if _, err = stmt.Exec(); err != nil {
		return err
	}
	if err = stmt.Close(); err != nil {
		return err
	}

	return txn.Commit()
}

func (r *PostgresReadingRepository) GetReadingsByDevice(ctx context.Context, deviceID string, limit int) ([]fitmodels.Reading, error) {
	query := `
		SELECT id, device_id, heart_rate, cadence, power, speed, jumps, battery, extras, timestamp
		FROM readings
		WHERE device_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanReadings(rows)
}

func (r *PostgresReadingRepository) scanReadings(rows *sql.Rows) ([]fitmodels.Reading, error) {
	var readings []fitmodels.Reading

	for rows.Next() {
		var reading fitmodels.Reading
		var heartRate, cadence, power, jumps, battery sql.NullInt64
		var speed sql.NullFloat64
		var extras []byte

		if err := rows.Scan(
			&reading.ID, &reading.DeviceID,
			&heartRate, &cadence, &power, &speed, &jumps, &battery,
			&extras, &reading.Timestamp,
		); err != nil {
			return nil, err
		}

		reading.HeartRate = intPtr(heartRate)
		reading.Cadence = intPtr(cadence)
		reading.Power = intPtr(power)
		reading.Speed = floatPtr(speed)
		reading.Jumps = intPtr(jumps)
		reading.Battery = intPtr(battery)
		if err := reading.ApplyExtras(extras); err != nil {
			return nil, fmt.Errorf("failed to unmarshal extras: %w", err)
		}

		readings = append(readings, reading)
	}

	return readings, rows.Err()
}
