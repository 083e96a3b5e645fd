package engine

import (
	"context"
	"testing"
	"time"

	"github.com/nightsync/nightsync/internal/nightscout"
)

func TestUploadBattery_PlainBatteryKey(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		battery: &BatteryInfo{MetricKey: "battery", MetricValue: 73, UploaderLevel: 90},
	}
	gateway := &fakeGateway{}
	c := newTestCoordinator(t, store, gateway, testConfig())

	if err := c.uploadBattery(context.Background()); err != nil {
		t.Fatalf("uploadBattery: %v", err)
	}

	if len(gateway.statuses) != 1 {
		t.Fatalf("server saw %d status uploads, want 1", len(gateway.statuses))
	}

	uploader := gateway.statuses[0].Uploader
	if uploader["battery"] != 73 {
		t.Errorf("battery = %v, want 73 (transmitter metric)", uploader["battery"])
	}

	if uploader["name"] != "transmitter" {
		t.Errorf("name = %v, want %q", uploader["name"], "transmitter")
	}

	if len(uploader) != 2 {
		t.Errorf("uploader has %d keys, want 2: %v", len(uploader), uploader)
	}
}

func TestUploadBattery_RemapsCustomMetricKey(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		battery: &BatteryInfo{MetricKey: "batteryVoltage", MetricValue: 295, UploaderLevel: 81},
	}
	gateway := &fakeGateway{}
	c := newTestCoordinator(t, store, gateway, testConfig())

	if err := c.uploadBattery(context.Background()); err != nil {
		t.Fatalf("uploadBattery: %v", err)
	}

	uploader := gateway.statuses[0].Uploader
	if uploader["battery"] != 81 {
		t.Errorf("battery = %v, want 81 (uploader level)", uploader["battery"])
	}

	if uploader["batteryVoltage"] != 295 {
		t.Errorf("batteryVoltage = %v, want 295", uploader["batteryVoltage"])
	}

	if uploader["name"] != "transmitter" {
		t.Errorf("name = %v, want %q", uploader["name"], "transmitter")
	}
}

func TestUploadBattery_SkipsUnchangedValue(t *testing.T) {
	t.Parallel()

	info := &BatteryInfo{MetricKey: "battery", MetricValue: 73, UploaderLevel: 90}

	store := &fakeStore{battery: info, lastBattery: &BatteryInfo{MetricKey: "battery", MetricValue: 73, UploaderLevel: 90}}
	gateway := &fakeGateway{}
	c := newTestCoordinator(t, store, gateway, testConfig())

	if err := c.uploadBattery(context.Background()); err != nil {
		t.Fatalf("uploadBattery: %v", err)
	}

	if len(gateway.statuses) != 0 {
		t.Errorf("server saw %d status uploads for an unchanged battery, want 0", len(gateway.statuses))
	}
}

func TestUploadBattery_NoBatteryState(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	gateway := &fakeGateway{}
	c := newTestCoordinator(t, store, gateway, testConfig())

	if err := c.uploadBattery(context.Background()); err != nil {
		t.Fatalf("uploadBattery: %v", err)
	}

	if len(gateway.statuses) != 0 {
		t.Errorf("server saw %d status uploads with no battery state, want 0", len(gateway.statuses))
	}
}

func TestUploadSensorStart_OncePerSensor(t *testing.T) {
	t.Parallel()

	startedAt := base.Add(-48 * time.Hour)

	store := &fakeStore{
		sensor: &Sensor{ID: "sensor-1", StartedAt: startedAt},
	}
	gateway := &fakeGateway{}
	c := newTestCoordinator(t, store, gateway, testConfig())

	ctx := context.Background()

	if err := c.uploadSensorStart(ctx); err != nil {
		t.Fatalf("first upload: %v", err)
	}

	if len(gateway.treatmentBatches) != 1 {
		t.Fatalf("server saw %d treatment batches, want 1", len(gateway.treatmentBatches))
	}

	record := gateway.treatmentBatches[0][0]
	if record.EventType != nightscout.EventTypeSensorStart {
		t.Errorf("eventType %q, want %q", record.EventType, nightscout.EventTypeSensorStart)
	}

	if record.ID != "sensor-1" {
		t.Errorf("record id %q, want the sensor id", record.ID)
	}

	if !record.CreatedAt.Equal(startedAt) {
		t.Errorf("created_at %v, want %v", record.CreatedAt.Time, startedAt)
	}

	// Second pass: the persisted flag suppresses a re-upload.
	if err := c.uploadSensorStart(ctx); err != nil {
		t.Fatalf("second upload: %v", err)
	}

	if len(gateway.treatmentBatches) != 1 {
		t.Errorf("server saw %d treatment batches after second pass, want still 1", len(gateway.treatmentBatches))
	}
}

func TestUploadSensorStart_Disabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.UploadSensorStart = false

	store := &fakeStore{sensor: &Sensor{ID: "sensor-1", StartedAt: base}}
	gateway := &fakeGateway{}
	c := newTestCoordinator(t, store, gateway, cfg)

	if err := c.uploadSensorStart(context.Background()); err != nil {
		t.Fatalf("uploadSensorStart: %v", err)
	}

	if len(gateway.treatmentBatches) != 0 {
		t.Errorf("server saw %d treatment batches with the feature disabled, want 0", len(gateway.treatmentBatches))
	}
}
