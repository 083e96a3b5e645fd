package engine

import (
	"context"
	"fmt"

	"github.com/nightsync/nightsync/internal/nightscout"
)

// uploadStatus pushes the device status payload when the battery state
// changed since the last upload, and the active sensor's start event if
// it has never been uploaded.
func (c *Coordinator) uploadStatus(ctx context.Context) error {
	if err := c.uploadBattery(ctx); err != nil {
		return err
	}

	return c.uploadSensorStart(ctx)
}

func (c *Coordinator) uploadBattery(ctx context.Context) error {
	battery, err := c.store.TransmitterBattery(ctx)
	if err != nil {
		return fmt.Errorf("transmitter battery: %w", err)
	}

	if battery == nil {
		return nil
	}

	last, err := c.store.LastUploadedBattery(ctx)
	if err != nil {
		return fmt.Errorf("last uploaded battery: %w", err)
	}

	if last != nil && *last == *battery {
		return nil
	}

	status := nightscout.DeviceStatus{Uploader: batteryPayload(battery)}
	if err := c.gateway.UploadDeviceStatus(ctx, status); err != nil {
		return fmt.Errorf("upload device status: %w", err)
	}

	if err := c.store.SetLastUploadedBattery(ctx, battery); err != nil {
		return fmt.Errorf("record uploaded battery: %w", err)
	}

	c.logger.Info("device status uploaded", "metric", battery.MetricKey, "value", battery.MetricValue)

	return nil
}

// batteryPayload builds the uploader object. Nightscout's UI reads the
// "battery" key, so when the transmitter metric has a different name the
// uploader device's own level fills "battery" and the transmitter metric
// keeps its native key alongside it.
func batteryPayload(b *BatteryInfo) map[string]any {
	if b.MetricKey == "" || b.MetricKey == "battery" {
		return map[string]any{
			"name":    "transmitter",
			"battery": b.MetricValue,
		}
	}

	return map[string]any{
		"name":      "transmitter",
		"battery":   b.UploaderLevel,
		b.MetricKey: b.MetricValue,
	}
}

// uploadSensorStart posts the active sensor's start event as a treatment,
// at most once per sensor. The sensor id doubles as the record id so a
// retried upload lands on the same server document.
func (c *Coordinator) uploadSensorStart(ctx context.Context) error {
	if !c.cfg.UploadSensorStart {
		return nil
	}

	sensor, err := c.store.ActiveSensor(ctx)
	if err != nil {
		return fmt.Errorf("active sensor: %w", err)
	}

	if sensor == nil || sensor.UploadedToRemote {
		return nil
	}

	record := nightscout.TreatmentRecord{
		ID:        sensor.ID,
		EventType: nightscout.EventTypeSensorStart,
		CreatedAt: nightscout.NewTime(sensor.StartedAt),
		EnteredBy: c.cfg.DeviceName,
	}

	if _, err := c.gateway.UploadTreatments(ctx, []nightscout.TreatmentRecord{record}); err != nil {
		return fmt.Errorf("upload sensor start: %w", err)
	}

	if err := c.store.MarkSensorUploaded(ctx, sensor.ID); err != nil {
		return fmt.Errorf("mark sensor uploaded: %w", err)
	}

	c.logger.Info("sensor start uploaded", "sensor", sensor.ID, "started_at", sensor.StartedAt)

	return nil
}
