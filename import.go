package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nightsync/nightsync/internal/engine"
)

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>",
		Short: "Import CGM data into the local store",
		Long: `Load readings, calibrations, sensor sessions and transmitter battery
state from a JSON export into the local store. This is the ingest path
for data collected by a separate CGM bridge; everything imported uploads
on the next sync pass.

The file is an object with optional keys: "readings", "calibrations",
"sensor", "battery" and "connection_status_change".`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}
}

// importFile is the JSON export shape.
type importFile struct {
	Readings []struct {
		Timestamp time.Time `json:"timestamp"`
		Value     float64   `json:"value"`
		Direction string    `json:"direction"`
		SensorID  string    `json:"sensor_id"`
	} `json:"readings"`

	Calibrations []struct {
		Timestamp time.Time `json:"timestamp"`
		BG        float64   `json:"bg"`
		Slope     float64   `json:"slope"`
		Intercept float64   `json:"intercept"`
	} `json:"calibrations"`

	Sensor *struct {
		ID        string    `json:"id"`
		StartedAt time.Time `json:"started_at"`
	} `json:"sensor"`

	Battery *struct {
		MetricKey     string `json:"metric_key"`
		MetricValue   int    `json:"metric_value"`
		UploaderLevel int    `json:"uploader_level"`
	} `json:"battery"`

	ConnectionStatusChange *time.Time `json:"connection_status_change"`
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading import file: %w", err)
	}

	var f importFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing import file: %w", err)
	}

	logger := buildLogger()

	store, err := engine.NewStore(statePath(), logger)
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()

	if f.Sensor != nil {
		sensor := engine.Sensor{ID: f.Sensor.ID, StartedAt: f.Sensor.StartedAt}
		if err := store.UpsertSensor(ctx, sensor); err != nil {
			return fmt.Errorf("importing sensor: %w", err)
		}
	}

	for _, r := range f.Readings {
		reading := engine.Reading{
			Timestamp: r.Timestamp,
			Value:     r.Value,
			Direction: r.Direction,
			SensorID:  r.SensorID,
		}
		if err := store.AddReading(ctx, reading); err != nil {
			return fmt.Errorf("importing reading at %s: %w", r.Timestamp, err)
		}
	}

	for _, c := range f.Calibrations {
		cal := engine.Calibration{
			Timestamp: c.Timestamp,
			BG:        c.BG,
			Slope:     c.Slope,
			Intercept: c.Intercept,
		}
		if err := store.AddCalibration(ctx, cal); err != nil {
			return fmt.Errorf("importing calibration at %s: %w", c.Timestamp, err)
		}
	}

	if f.Battery != nil {
		info := &engine.BatteryInfo{
			MetricKey:     f.Battery.MetricKey,
			MetricValue:   f.Battery.MetricValue,
			UploaderLevel: f.Battery.UploaderLevel,
		}
		if err := store.SetTransmitterBattery(ctx, info); err != nil {
			return fmt.Errorf("importing battery state: %w", err)
		}
	}

	if f.ConnectionStatusChange != nil {
		if err := store.SetLastConnectionStatusChange(ctx, *f.ConnectionStatusChange); err != nil {
			return fmt.Errorf("importing connection status change: %w", err)
		}
	}

	statusf("Imported %d readings, %d calibrations.\n", len(f.Readings), len(f.Calibrations))

	return nil
}
