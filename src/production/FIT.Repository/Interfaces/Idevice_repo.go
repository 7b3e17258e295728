package interfaces

import (
	"context"
	"time"

	fitmodels "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Models"
)

// DeviceFilter narrows ListDevicesWithLatest. Connected nil means "any".
// When Connected is set, FreshnessWindow decides which side of the
// boundary a device falls on: connected=true keeps devices seen within
// the window, connected=false returns the complement.
type DeviceFilter struct {
	DeviceType      string
	Connected       *bool
	FreshnessWindow time.Duration
	Limit           int
}

type DeviceRepository interface {
	// UpsertDevice inserts the device row or reactivates an existing one
	// (connected=true, last_seen refreshed). Keyed on device_id.
	UpsertDevice(ctx context.Context, device fitmodels.Device) (*fitmodels.Device, error)

	// GetDevice returns the device row, or nil when absent.
	GetDevice(ctx context.Context, deviceID string) (*fitmodels.Device, error)

	// ListDevicesWithLatest returns device rows matching the filter, each
	// joined with its single most recent reading.
	ListDevicesWithLatest(ctx context.Context, filter DeviceFilter) ([]fitmodels.DeviceWithLatestReading, error)
}
