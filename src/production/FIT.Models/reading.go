package fitmodels

import (
	"encoding/json"
	"time"
)

// SensorFields is one sensor sample as reported by a hub. Every field is
// optional: nil means the hub did not report it in this sample, zero is a
// genuine measured value.
type SensorFields struct {
	HeartRate   *int     `json:"heartRate,omitempty"`
	Cadence     *int     `json:"cadence,omitempty"`
	Power       *int     `json:"power,omitempty"`
	Speed       *float64 `json:"speed,omitempty"`
	Jumps       *int     `json:"jumps,omitempty"`
	Battery     *int     `json:"battery,omitempty"`
	Steps       *int     `json:"steps,omitempty"`
	Calories    *int     `json:"calories,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Oxygen      *int     `json:"oxygen,omitempty"`
	PunchType   *string  `json:"punchType,omitempty"`
	PunchHand   *string  `json:"punchHand,omitempty"`
	SOS         *bool    `json:"sos,omitempty"`
}

// Merge overlays the non-nil fields of in onto f. Fields absent from in
// keep their previous value, so successive partial samples accumulate.
func (f *SensorFields) Merge(in SensorFields) {
	if in.HeartRate != nil {
		f.HeartRate = in.HeartRate
	}
	if in.Cadence != nil {
		f.Cadence = in.Cadence
	}
	if in.Power != nil {
		f.Power = in.Power
	}
	if in.Speed != nil {
		f.Speed = in.Speed
	}
	if in.Jumps != nil {
		f.Jumps = in.Jumps
	}
	if in.Battery != nil {
		f.Battery = in.Battery
	}
	if in.Steps != nil {
		f.Steps = in.Steps
	}
	if in.Calories != nil {
		f.Calories = in.Calories
	}
	if in.Temperature != nil {
		f.Temperature = in.Temperature
	}
	if in.Oxygen != nil {
		f.Oxygen = in.Oxygen
	}
	if in.PunchType != nil {
		f.PunchType = in.PunchType
	}
	if in.PunchHand != nil {
		f.PunchHand = in.PunchHand
	}
	if in.SOS != nil {
		f.SOS = in.SOS
	}
}

// IsEmpty reports whether no field was set at all.
func (f SensorFields) IsEmpty() bool {
	return f.HeartRate == nil && f.Cadence == nil && f.Power == nil &&
		f.Speed == nil && f.Jumps == nil && f.Battery == nil &&
		f.Steps == nil && f.Calories == nil && f.Temperature == nil &&
		f.Oxygen == nil && f.PunchType == nil && f.PunchHand == nil &&
		f.SOS == nil
}

// extraFields are the sample fields without a dedicated readings column.
// They ride in the extras JSONB column of the readings table.
type extraFields struct {
	Steps       *int     `json:"steps,omitempty"`
	Calories    *int     `json:"calories,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Oxygen      *int     `json:"oxygen,omitempty"`
	PunchType   *string  `json:"punchType,omitempty"`
	PunchHand   *string  `json:"punchHand,omitempty"`
	SOS         *bool    `json:"sos,omitempty"`
}

// ExtrasJSON serializes the non-column fields for storage. It returns nil
// when none of them are set, so the column stays NULL for plain samples.
func (f SensorFields) ExtrasJSON() ([]byte, error) {
	extras := extraFields{
		Steps:       f.Steps,
		Calories:    f.Calories,
		Temperature: f.Temperature,
		Oxygen:      f.Oxygen,
		PunchType:   f.PunchType,
		PunchHand:   f.PunchHand,
		SOS:         f.SOS,
	}
	if extras == (extraFields{}) {
		return nil, nil
	}
	return json.Marshal(extras)
}

// ApplyExtras restores the non-column fields from the stored extras blob.
func (f *SensorFields) ApplyExtras(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	var extras extraFields
	if err := json.Unmarshal(raw, &extras); err != nil {
		return err
	}
	f.Steps = extras.Steps
	f.Calories = extras.Calories
	f.Temperature = extras.Temperature
	f.Oxygen = extras.Oxygen
	f.PunchType = extras.PunchType
	f.PunchHand = extras.PunchHand
	f.SOS = extras.SOS
	return nil
}

// Reading is one persisted sensor sample. Readings are append-only; a
// stored reading is never updated.
type Reading struct {
	ID       int64  `json:"id,omitempty" db:"id"`
	DeviceID string `json:"deviceId" db:"device_id"`
	SensorFields
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}
