package interfaces

import (
	"context"

	fitmodels "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Models"
)

type ReadingRepository interface {
	// InsertReading appends one reading and returns the stored row with
	// its server-assigned id and timestamp. Readings are immutable once
	// stored.
	InsertReading(ctx context.Context, reading fitmodels.Reading) (*fitmodels.Reading, error)

	// InsertReadings bulk-appends a batch, used by the MQTT bridge flush
	// path. Timestamps are server-assigned on insert.
	InsertReadings(ctx context.Context, readings []fitmodels.Reading) error

	// GetReadingsByDevice returns the most recent limit readings for a
	// device, newest first, regardless of device freshness.
	GetReadingsByDevice(ctx context.Context, deviceID string, limit int) ([]fitmodels.Reading, error)
}
