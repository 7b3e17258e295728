package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	logger "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Logger"
	fitmodels "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Models"
	presence "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Presence"
	interfaces "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Repository/Interfaces"
)

// Broadcaster pushes the current presence snapshot to all viewers.
type Broadcaster interface {
	Broadcast()
}

// Pipeline is the single entry point for events arriving from hubs.
// Registry mutation and the broadcast it triggers are serialized in
// arrival order under one mutex; store I/O happens outside that
// critical section, so two events can have their writes in flight
// concurrently while their live updates stay ordered.
//
// Every failure is absorbed here: a bad event is logged and dropped,
// never surfaced to the hub (which has no response channel) and never
// allowed to stop the next event.
type Pipeline struct {
	registry     *presence.Registry
	devices      interfaces.DeviceRepository
	readings     interfaces.ReadingRepository
	hub          Broadcaster
	logger       *logger.Logger
	storeTimeout time.Duration

	mu sync.Mutex
	wg sync.WaitGroup
}

func NewPipeline(
	registry *presence.Registry,
	devices interfaces.DeviceRepository,
	readings interfaces.ReadingRepository,
	hub Broadcaster,
	storeTimeout time.Duration,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		registry:     registry,
		devices:      devices,
		readings:     readings,
		hub:          hub,
		logger:       log.WithComponent("ingest"),
		storeTimeout: storeTimeout,
	}
}

// Handle processes one hub event. It never returns an error: hubs are
// fire-and-forget senders.
func (p *Pipeline) Handle(ctx context.Context, ev fitmodels.Event) {
	switch ev.Type {
	case fitmodels.EventHubConnect:
		p.handleHubConnect(ctx, ev)
	case fitmodels.EventDeviceData:
		p.handleDeviceData(ctx, ev)
	default:
		p.logger.WithField("type", ev.Type).Warn("Unrecognized event type, ignoring")
	}
}

func (p *Pipeline) handleHubConnect(ctx context.Context, ev fitmodels.Event) {
	if ev.DeviceID == "" {
		p.logger.WithField("hub_id", ev.HubID).Warn("hub_connect without deviceId, ignoring")
		return
	}

	// Durable upsert first. A store failure is logged and must not keep
	// live viewers from seeing the device.
	storeCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()
	_, err := p.devices.UpsertDevice(storeCtx, fitmodels.Device{
		DeviceID:   ev.DeviceID,
		DeviceType: ev.DeviceType,
		Name:       ev.Name,
	})
	if err != nil {
		p.logger.WithError(err).WithField("device_id", ev.DeviceID).Error("Device upsert failed, continuing with live update")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.registry.UpsertDevice(ev.DeviceID, ev.DeviceType, ev.Name, ev.HubID)
	p.hub.Broadcast()
}

func (p *Pipeline) handleDeviceData(ctx context.Context, ev fitmodels.Event) {
	if ev.DeviceID == "" {
		p.logger.Warn("device_data without deviceId, ignoring")
		return
	}

	// Persistence is detached from the live path: the write may still be
	// in flight while the broadcast goes out, and its failure is
	// observable only in the log.
	reading := fitmodels.Reading{DeviceID: ev.DeviceID, SensorFields: ev.SensorFields}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		storeCtx, cancel := context.WithTimeout(context.Background(), p.storeTimeout)
		defer cancel()
		if _, err := p.readings.InsertReading(storeCtx, reading); err != nil {
			p.logger.WithError(err).WithField("device_id", ev.DeviceID).Error("Reading insert failed")
		}
	}()

	p.ApplyLive(ev.DeviceID, ev.SensorFields)
}

// ApplyLive merges fields onto the in-memory presence view and
// broadcasts on success. It reports whether the device was tracked;
// data for untracked devices is persisted by the caller but produces no
// broadcast, since there is no viewer state to update.
func (p *Pipeline) ApplyLive(deviceID string, fields fitmodels.SensorFields) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.registry.ApplyReading(deviceID, fields); err != nil {
		if errors.Is(err, presence.ErrDeviceNotTracked) {
			p.logger.WithField("device_id", deviceID).Debug("Data for untracked device, persisted without broadcast")
		}
		return false
	}
	p.hub.Broadcast()
	return true
}

// ConnectLive marks a device connected in the presence view and
// broadcasts, used by ingest paths that already persisted the device
// row themselves.
func (p *Pipeline) ConnectLive(deviceID, deviceType, name, hubID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registry.UpsertDevice(deviceID, deviceType, name, hubID)
	p.hub.Broadcast()
}

// Drain waits for detached store writes to finish, used on shutdown.
func (p *Pipeline) Drain() {
	p.wg.Wait()
}
