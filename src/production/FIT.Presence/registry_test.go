package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fitmodels "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Models"
)

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func newTestRegistry(at time.Time) (*Registry, *time.Time) {
	clock := at
	r := NewRegistry()
	r.now = func() time.Time { return clock }
	return r, &clock
}

func TestUpsertDeviceIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(time.Now())

	first := r.UpsertDevice("hr-1", "heart_rate", "Chest Strap", "hub-a")
	second := r.UpsertDevice("hr-1", "", "", "")

	assert.Equal(t, 1, r.Len())
	assert.True(t, second.Connected)
	// Empty fields on the second call must not erase the first call's values.
	assert.Equal(t, first.DeviceType, second.DeviceType)
	assert.Equal(t, "Chest Strap", second.Name)
	assert.Equal(t, "hub-a", second.HubID)
}

func TestUpsertDeviceOverwritesProvidedMetadata(t *testing.T) {
	r, _ := newTestRegistry(time.Now())

	r.UpsertDevice("hr-1", "heart_rate", "Chest Strap", "hub-a")
	updated := r.UpsertDevice("hr-1", "heart_rate_v2", "New Strap", "hub-b")

	assert.Equal(t, "heart_rate_v2", updated.DeviceType)
	assert.Equal(t, "New Strap", updated.Name)
	assert.Equal(t, "hub-b", updated.HubID)
}

func TestApplyReadingUnknownDevice(t *testing.T) {
	r, _ := newTestRegistry(time.Now())

	_, err := r.ApplyReading("ghost", fitmodels.SensorFields{HeartRate: intPtr(70)})
	assert.ErrorIs(t, err, ErrDeviceNotTracked)
	assert.Equal(t, 0, r.Len())
}

func TestApplyReadingMergesPartialSamples(t *testing.T) {
	r, _ := newTestRegistry(time.Now())
	r.UpsertDevice("hr-1", "heart_rate", "Chest Strap", "hub-a")

	_, err := r.ApplyReading("hr-1", fitmodels.SensorFields{HeartRate: intPtr(80)})
	require.NoError(t, err)
	state, err := r.ApplyReading("hr-1", fitmodels.SensorFields{Battery: intPtr(50)})
	require.NoError(t, err)

	require.NotNil(t, state.Data)
	require.NotNil(t, state.Data.HeartRate)
	require.NotNil(t, state.Data.Battery)
	assert.Equal(t, 80, *state.Data.HeartRate)
	assert.Equal(t, 50, *state.Data.Battery)
}

func TestApplyReadingZeroIsAValue(t *testing.T) {
	r, _ := newTestRegistry(time.Now())
	r.UpsertDevice("tracker-1", "tracker", "Band", "hub-a")

	state, err := r.ApplyReading("tracker-1", fitmodels.SensorFields{Steps: intPtr(0)})
	require.NoError(t, err)

	require.NotNil(t, state.Data.Steps)
	assert.Equal(t, 0, *state.Data.Steps)
	assert.Nil(t, state.Data.HeartRate)
}

func TestSnapshotFreshnessBoundary(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	window := 5 * time.Minute
	r, clock := newTestRegistry(base)

	r.UpsertDevice("stale", "tracker", "Old Band", "hub-a")
	*clock = base.Add(window + time.Second)
	r.UpsertDevice("fresh", "tracker", "New Band", "hub-a")
	*clock = base.Add(window + time.Second + 1*time.Second)

	snapshot := r.Snapshot(window)
	require.Len(t, snapshot, 1)
	assert.Equal(t, "fresh", snapshot[0].DeviceID)

	// The entry is excluded, not deleted.
	assert.Equal(t, 2, r.Len())
}

func TestSnapshotIncludesExactWindowEdge(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	window := 5 * time.Minute
	r, clock := newTestRegistry(base)

	r.UpsertDevice("edge", "tracker", "Band", "hub-a")
	*clock = base.Add(window - time.Second)

	snapshot := r.Snapshot(window)
	require.Len(t, snapshot, 1)

	*clock = base.Add(window)
	snapshot = r.Snapshot(window)
	require.Len(t, snapshot, 1, "last_seen exactly at the window edge still counts")
}

func TestLastSeenIsMonotonic(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r, clock := newTestRegistry(base)

	r.UpsertDevice("hr-1", "heart_rate", "Strap", "hub-a")
	// Clock jumps backwards (e.g. NTP step); last_seen must not move back.
	*clock = base.Add(-time.Minute)
	state, err := r.ApplyReading("hr-1", fitmodels.SensorFields{HeartRate: intPtr(70)})
	require.NoError(t, err)

	assert.Equal(t, base, state.LastSeen)
}

func TestSnapshotReturnsCopies(t *testing.T) {
	r, _ := newTestRegistry(time.Now())
	r.UpsertDevice("hr-1", "heart_rate", "Strap", "hub-a")
	_, err := r.ApplyReading("hr-1", fitmodels.SensorFields{Speed: floatPtr(12.5)})
	require.NoError(t, err)

	snapshot := r.Snapshot(time.Minute)
	require.Len(t, snapshot, 1)
	*snapshot[0].Data.Speed = 99

	again := r.Snapshot(time.Minute)
	assert.Equal(t, 12.5, *again[0].Data.Speed)
}

func TestSnapshotSortedByDeviceID(t *testing.T) {
	r, _ := newTestRegistry(time.Now())
	r.UpsertDevice("c", "tracker", "", "hub-a")
	r.UpsertDevice("a", "tracker", "", "hub-a")
	r.UpsertDevice("b", "tracker", "", "hub-a")

	snapshot := r.Snapshot(time.Minute)
	require.Len(t, snapshot, 3)
	assert.Equal(t, "a", snapshot[0].DeviceID)
	assert.Equal(t, "b", snapshot[1].DeviceID)
	assert.Equal(t, "c", snapshot[2].DeviceID)
}
