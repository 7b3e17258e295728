package controllers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	ingest "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Ingest"
	logger "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Logger"
	fitmodels "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Models"
	presence "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Presence"
	interfaces "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Repository/Interfaces"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeDeviceRepo is an in-memory DeviceRepository for handler tests.
type fakeDeviceRepo struct {
	mu       sync.Mutex
	devices  map[string]fitmodels.Device
	listResp []fitmodels.DeviceWithLatestReading
	listErr  error
	lastList interfaces.DeviceFilter
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{devices: make(map[string]fitmodels.Device)}
}

func (f *fakeDeviceRepo) UpsertDevice(_ context.Context, device fitmodels.Device) (*fitmodels.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	device.Connected = true
	device.LastSeen = time.Now()
	f.devices[device.DeviceID] = device
	return &device, nil
}

func (f *fakeDeviceRepo) GetDevice(_ context.Context, deviceID string) (*fitmodels.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	device, ok := f.devices[deviceID]
	if !ok {
		return nil, nil
	}
	return &device, nil
}

func (f *fakeDeviceRepo) ListDevicesWithLatest(_ context.Context, filter interfaces.DeviceFilter) ([]fitmodels.DeviceWithLatestReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastList = filter
	return f.listResp, f.listErr
}

// fakeReadingRepo records inserted readings and serves canned history.
type fakeReadingRepo struct {
	mu        sync.Mutex
	inserted  []fitmodels.Reading
	history   []fitmodels.Reading
	insertErr error
	nextID    int64
}

func (f *fakeReadingRepo) InsertReading(_ context.Context, reading fitmodels.Reading) (*fitmodels.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.nextID++
	reading.ID = f.nextID
	reading.Timestamp = time.Now()
	f.inserted = append(f.inserted, reading)
	return &reading, nil
}

func (f *fakeReadingRepo) InsertReadings(_ context.Context, readings []fitmodels.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, readings...)
	return nil
}

func (f *fakeReadingRepo) GetReadingsByDevice(_ context.Context, deviceID string, limit int) ([]fitmodels.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

func (f *fakeReadingRepo) insertedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

// countingBroadcaster satisfies the pipeline's Broadcaster.
type countingBroadcaster struct {
	count atomic.Int64
}

func (b *countingBroadcaster) Broadcast() { b.count.Add(1) }

// newTestPipeline wires a pipeline over fresh fakes for handler tests.
func newTestPipeline(devices *fakeDeviceRepo, readings *fakeReadingRepo) (*ingest.Pipeline, *presence.Registry, *countingBroadcaster) {
	registry := presence.NewRegistry()
	broadcaster := &countingBroadcaster{}
	pipeline := ingest.NewPipeline(registry, devices, readings, broadcaster, time.Second, logger.NewNop())
	return pipeline, registry, broadcaster
}
