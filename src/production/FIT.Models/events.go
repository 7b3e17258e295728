package fitmodels

import (
	"encoding/json"
	"errors"
)

// Push-channel message types. Hubs and viewers share one WebSocket
// endpoint and discriminate frames on the type field.
const (
	EventHubConnect          = "hub_connect"
	EventDeviceData          = "device_data"
	EventGetConnectedDevices = "get_connected_devices"

	MessageDevices          = "devices"
	MessageConnectedDevices = "connected_devices"
)

// Event is an inbound push-channel frame.
type Event struct {
	Type       string `json:"type"`
	HubID      string `json:"hubId,omitempty"`
	DeviceID   string `json:"deviceId,omitempty"`
	DeviceType string `json:"deviceType,omitempty"`
	Name       string `json:"name,omitempty"`
	SensorFields
}

// DecodeEvent parses a raw push-channel frame. A wrong-typed field
// decodes to nil while the rest of the frame is kept; only frames that
// are not valid JSON at all fail.
func DecodeEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return ev, err
		}
	}
	return ev, nil
}

// ServerMessage is an outbound push-channel frame.
type ServerMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}
