package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logger "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Logger"
	fitmodels "gitlab.com/stoneproof1/fit.relay_server/src/production/FIT.Models"
)

func newDeviceRouter(devices *fakeDeviceRepo, readings *fakeReadingRepo) (*gin.Engine, *countingBroadcaster) {
	pipeline, registry, broadcaster := newTestPipeline(devices, readings)
	registry.UpsertDevice("hr-1", "heart_rate", "Strap", "hub-a")

	router := gin.New()
	controller := NewDeviceController(devices, readings, pipeline, 5*time.Minute, logger.NewNop())
	controller.RegisterRoutes(router)
	return router, broadcaster
}

func TestListDevicesAppliesQueryFilters(t *testing.T) {
	devices := newFakeDeviceRepo()
	devices.listResp = []fitmodels.DeviceWithLatestReading{
		{Device: fitmodels.Device{DeviceID: "hr-1", DeviceType: "heart_rate"}},
	}
	router, _ := newDeviceRouter(devices, &fakeReadingRepo{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/devices?type=heart_rate&connected=true&limit=5", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "heart_rate", devices.lastList.DeviceType)
	require.NotNil(t, devices.lastList.Connected)
	assert.True(t, *devices.lastList.Connected)
	assert.Equal(t, 5, devices.lastList.Limit)
	assert.Equal(t, 5*time.Minute, devices.lastList.FreshnessWindow)

	var got []fitmodels.DeviceWithLatestReading
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "hr-1", got[0].DeviceID)
}

func TestListDevicesRejectsBadConnectedFilter(t *testing.T) {
	router, _ := newDeviceRouter(newFakeDeviceRepo(), &fakeReadingRepo{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/devices?connected=maybe", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListDevicesReturnsEmptyArrayNotNull(t *testing.T) {
	router, _ := newDeviceRouter(newFakeDeviceRepo(), &fakeReadingRepo{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestRegisterDeviceValidatesBody(t *testing.T) {
	router, _ := newDeviceRouter(newFakeDeviceRepo(), &fakeReadingRepo{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/devices", strings.NewReader(`{"deviceId":"hr-1"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterDeviceStoresAndReturnsRow(t *testing.T) {
	devices := newFakeDeviceRepo()
	router, broadcaster := newDeviceRouter(devices, &fakeReadingRepo{})

	body := `{"deviceId":"cad-1","deviceType":"cadence","name":"Crank Sensor"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/devices", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var got fitmodels.Device
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "cad-1", got.DeviceID)
	assert.True(t, got.Connected)
	_, ok := devices.devices["cad-1"]
	assert.True(t, ok)
	// Registration enters the live view too.
	assert.Equal(t, int64(1), broadcaster.count.Load())
}

func TestRecordReadingPersistsAndGoesLive(t *testing.T) {
	readings := &fakeReadingRepo{}
	router, broadcaster := newDeviceRouter(newFakeDeviceRepo(), readings)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/devices/hr-1/data", strings.NewReader(`{"heartRate":72}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, 1, readings.insertedCount())
	assert.Equal(t, "hr-1", readings.inserted[0].DeviceID)
	assert.Equal(t, int64(1), broadcaster.count.Load())

	var got fitmodels.Reading
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(1), got.ID)
	require.NotNil(t, got.HeartRate)
	assert.Equal(t, 72, *got.HeartRate)
}

func TestRecordReadingForUntrackedDevicePersistsWithoutBroadcast(t *testing.T) {
	readings := &fakeReadingRepo{}
	router, broadcaster := newDeviceRouter(newFakeDeviceRepo(), readings)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/devices/ghost-9/data", strings.NewReader(`{"heartRate":60}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, readings.insertedCount())
	assert.Equal(t, int64(0), broadcaster.count.Load())
}

func TestGetReadingHistoryReturnsStoredRows(t *testing.T) {
	hr := 88
	readings := &fakeReadingRepo{history: []fitmodels.Reading{
		{ID: 2, DeviceID: "hr-1", SensorFields: fitmodels.SensorFields{HeartRate: &hr}},
		{ID: 1, DeviceID: "hr-1"},
	}}
	router, _ := newDeviceRouter(newFakeDeviceRepo(), readings)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/devices/hr-1/data?limit=2", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []fitmodels.Reading
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
}
