package fitmodels

import "time"

// Device is the durable registry row for a hub device.
type Device struct {
	DeviceID   string    `json:"deviceId" db:"device_id"`
	DeviceType string    `json:"deviceType" db:"device_type"`
	Name       string    `json:"name" db:"name"`
	Connected  bool      `json:"connected" db:"connected"`
	LastSeen   time.Time `json:"lastSeen" db:"last_seen"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// DeviceWithLatestReading joins a device row with its single most
// recent reading, the shape returned by the device list endpoints.
type DeviceWithLatestReading struct {
	Device
	LatestReading *Reading `json:"latestReading,omitempty"`
}

// DeviceState is the in-memory presence view of one device: the device
// metadata with the most recent sensor fields merged on top. It is what
// gets pushed to viewers on every broadcast.
type DeviceState struct {
	DeviceID   string        `json:"deviceId"`
	DeviceType string        `json:"deviceType,omitempty"`
	Name       string        `json:"name,omitempty"`
	HubID      string        `json:"hubId,omitempty"`
	Connected  bool          `json:"connected"`
	LastSeen   time.Time     `json:"lastSeen"`
	Data       *SensorFields `json:"data,omitempty"`
}
