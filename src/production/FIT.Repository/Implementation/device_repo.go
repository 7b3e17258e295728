package implementation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	fitmodels "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Models"
	interfaces "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Repository/Interfaces"
)

type PostgresDeviceRepository struct {
	db *sql.DB
}

func NewPostgresDeviceRepository(db *sql.DB) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{db: db}
}

func (r *PostgresDeviceRepository) UpsertDevice(ctx context.Context, device fitmodels.Device) (*fitmodels.Device, error) {
	query := `
		INSERT INTO devices (device_id, device_type, name, connected, last_seen)
		VALUES ($1, $2, $3, true, NOW())
		ON CONFLICT (device_id)
		DO UPDATE SET
			device_type = COALESCE(NULLIF(EXCLUDED.device_type, ''), devices.device_type),
			name = COALESCE(NULLIF(EXCLUDED.name, ''), devices.name),
			connected = true,
			last_seen = GREATEST(devices.last_seen, NOW())
		RETURNING device_id, device_type, name, connected, last_seen, created_at
	`

	var stored fitmodels.Device
	err := r.db.QueryRowContext(ctx, query, device.DeviceID, device.DeviceType, device.Name).Scan(
		&stored.DeviceID, &stored.DeviceType, &stored.Name,
		&stored.Connected, &stored.LastSeen, &stored.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert device %s: %w", device.DeviceID, err)
	}

	return &stored, nil
}

func (r *PostgresDeviceRepository) GetDevice(ctx context.Context, deviceID string) (*fitmodels.Device, error) {
	query := `
		SELECT device_id, device_type, name, connected, last_seen, created_at
		FROM devices
		WHERE device_id = $1
	`

	var device fitmodels.Device
	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&device.DeviceID, &device.DeviceType, &device.Name,
		&device.Connected, &device.LastSeen, &device.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return &device, nil
}

func (r *PostgresDeviceRepository) ListDevicesWithLatest(ctx context.Context, filter interfaces.DeviceFilter) ([]fitmodels.DeviceWithLatestReading, error) {
	query := `
		SELECT d.device_id, d.device_type, d.name, d.connected, d.last_seen, d.created_at,
		       r.id, r.heart_rate, r.cadence, r.power, r.speed, r.jumps, r.battery, r.extras, r.timestamp
		FROM devices d
		LEFT JOIN LATERAL (
			SELECT id, heart_rate, cadence, power, speed, jumps, battery, extras, timestamp
			FROM readings
			WHERE device_id = d.device_id
			ORDER BY timestamp DESC
			LIMIT 1
		) r ON true
	`

	var conds []string
	var args []interface{}

	if filter.DeviceType != "" {
		conds = append(conds, fmt.Sprintf("d.device_type = $%d", len(args)+1))
		args = append(args, filter.DeviceType)
	}
	if filter.Connected != nil {
		fresh := fmt.Sprintf("(d.connected = true AND d.last_seen >= NOW() - ($%d * INTERVAL '1 second'))", len(args)+1)
		args = append(args, filter.FreshnessWindow.Seconds())
		if *filter.Connected {
			conds = append(conds, fresh)
		} else {
			conds = append(conds, "NOT "+fresh)
		}
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY d.last_seen DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []fitmodels.DeviceWithLatestReading
	for rows.Next() {
		var item fitmodels.DeviceWithLatestReading
		var readingID sql.NullInt64
		var heartRate, cadence, power, jumps, battery sql.NullInt64
		var speed sql.NullFloat64
		var extras []byte
		var ts sql.NullTime

		if err := rows.Scan(
			&item.DeviceID, &item.DeviceType, &item.Name,
			&item.Connected, &item.LastSeen, &item.CreatedAt,
			&readingID, &heartRate, &cadence, &power, &speed, &jumps, &battery, &extras, &ts,
		); err != nil {
			return nil, err
		}

		if readingID.Valid {
			reading := fitmodels.Reading{
				ID:        readingID.Int64,
				DeviceID:  item.DeviceID,
				Timestamp: ts.Time,
			}
			reading.HeartRate = intPtr(heartRate)
			reading.Cadence = intPtr(cadence)
			reading.Power = intPtr(power)
			reading.Speed = floatPtr(speed)
			reading.Jumps = intPtr(jumps)
			reading.Battery = intPtr(battery)
			if err := reading.ApplyExtras(extras); err != nil {
				return nil, fmt.Errorf("failed to unmarshal extras for %s: %w", item.DeviceID, err)
			}
			item.LatestReading = &reading
		}

		devices = append(devices, item)
	}

	return devices, rows.Err()
}
