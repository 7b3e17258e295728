package presence

import (
	"errors"
	"sort"
	"sync"
	"time"

	fitmodels "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Models"
)

// ErrDeviceNotTracked signals a data event for a device the registry has
// never seen a hub_connect for. It is a non-fatal condition: the caller
// persists the reading anyway and skips the live update.
var ErrDeviceNotTracked = errors.New("device not tracked")

// Registry is the in-process source of truth for devices known to this
// relay instance and their latest state. Entries are created by
// UpsertDevice, overwritten in place on update, and never deleted; a
// device stops appearing in Snapshot once its last_seen falls outside
// the freshness window. There is no background sweep — freshness is
// evaluated lazily at read time, which keeps the registry single-purpose
// at the cost of a stale entry lingering until the process restarts.
// That is acceptable at this scale: the registry is bounded by
// physically paired hubs.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*fitmodels.DeviceState
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]*fitmodels.DeviceState),
		now:     time.Now,
	}
}

// UpsertDevice creates the entry if absent or marks an existing entry
// connected and refreshes last_seen. Empty deviceType or name on an
// existing entry keep the previously stored values. It never fails:
// absence is a valid starting state.
func (r *Registry) UpsertDevice(deviceID, deviceType, name, hubID string) fitmodels.DeviceState {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.devices[deviceID]
	if !ok {
		entry = &fitmodels.DeviceState{DeviceID: deviceID}
		r.devices[deviceID] = entry
	}
	if deviceType != "" {
		entry.DeviceType = deviceType
	}
	if name != "" {
		entry.Name = name
	}
	if hubID != "" {
		entry.HubID = hubID
	}
	entry.Connected = true
	r.touch(entry)

	return *entry
}

// ApplyReading merges fields onto the device's cached latest-reading
// view and refreshes last_seen. Unknown devices return
// ErrDeviceNotTracked; data events never create registry entries, only
// hub_connect does.
func (r *Registry) ApplyReading(deviceID string, fields fitmodels.SensorFields) (fitmodels.DeviceState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.devices[deviceID]
	if !ok {
		return fitmodels.DeviceState{}, ErrDeviceNotTracked
	}
	if entry.Data == nil {
		entry.Data = &fitmodels.SensorFields{}
	}
	entry.Data.Merge(fields)
	r.touch(entry)

	return *entry, nil
}

// Snapshot returns every device that is connected and whose last_seen
// is within the freshness window, sorted by device identifier. The
// returned states are copies; mutating them does not affect the
// registry.
func (r *Registry) Snapshot(window time.Duration) []fitmodels.DeviceState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := r.now().Add(-window)
	states := make([]fitmodels.DeviceState, 0, len(r.devices))
	for _, entry := range r.devices {
		if !entry.Connected || entry.LastSeen.Before(cutoff) {
			continue
		}
		state := *entry
		if entry.Data != nil {
			data := *entry.Data
			state.Data = &data
		}
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].DeviceID < states[j].DeviceID
	})
	return states
}

// Len returns the number of entries, fresh or stale.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// touch refreshes last_seen, keeping it monotonically non-decreasing.
func (r *Registry) touch(entry *fitmodels.DeviceState) {
	if now := r.now(); now.After(entry.LastSeen) {
		entry.LastSeen = now
	}
}
