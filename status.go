package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nightsync/nightsync/internal/engine"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync state",
		Long: `Display the local sync state: upload watermarks, pending treatment
count, and the active sensor session. Reads the state database only and
does not contact the server.`,
		RunE: runStatus,
	}
}

// syncStatus is the status report, shaped for both table and JSON output.
type syncStatus struct {
	Server                 string     `json:"server,omitempty"`
	SyncEnabled            bool       `json:"sync_enabled"`
	Master                 bool       `json:"master"`
	LastUploadedReading    *time.Time `json:"last_uploaded_reading,omitempty"`
	LastUploadedCalib      *time.Time `json:"last_uploaded_calibration,omitempty"`
	PendingTreatments      int        `json:"pending_treatments"`
	ActiveSensor           string     `json:"active_sensor,omitempty"`
	SensorStartedAt        *time.Time `json:"sensor_started_at,omitempty"`
	SensorUploadedToRemote bool       `json:"sensor_uploaded_to_remote"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	store, err := engine.NewStore(statePath(), logger)
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()

	st := syncStatus{
		Server:      cfg.Server.URL,
		SyncEnabled: cfg.Sync.Enabled,
		Master:      cfg.Sync.Master,
	}

	if t, err := store.LastUploadedReadingTime(ctx); err != nil {
		return err
	} else if !t.IsZero() {
		st.LastUploadedReading = &t
	}

	if t, err := store.LastUploadedCalibrationTime(ctx); err != nil {
		return err
	} else if !t.IsZero() {
		st.LastUploadedCalib = &t
	}

	if st.PendingTreatments, err = store.PendingTreatmentCount(ctx); err != nil {
		return err
	}

	sensor, err := store.ActiveSensor(ctx)
	if err != nil {
		return err
	}

	if sensor != nil {
		st.ActiveSensor = sensor.ID
		st.SensorStartedAt = &sensor.StartedAt
		st.SensorUploadedToRemote = sensor.UploadedToRemote
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(st)
	}

	printStatusTable(st)

	return nil
}

func printStatusTable(st syncStatus) {
	server := st.Server
	if server == "" {
		server = "(not configured)"
	}

	fmt.Printf("Server:              %s\n", server)
	fmt.Printf("Sync enabled:        %t\n", st.SyncEnabled)
	fmt.Printf("Master:              %t\n", st.Master)
	fmt.Printf("Readings uploaded:   %s\n", formatOptionalTime(st.LastUploadedReading))
	fmt.Printf("Calibrations:        %s\n", formatOptionalTime(st.LastUploadedCalib))
	fmt.Printf("Pending treatments:  %d\n", st.PendingTreatments)

	if st.ActiveSensor == "" {
		fmt.Println("Active sensor:       none")
		return
	}

	fmt.Printf("Active sensor:       %s (started %s, start uploaded: %t)\n",
		st.ActiveSensor, formatOptionalTime(st.SensorStartedAt), st.SensorUploadedToRemote)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "never"
	}

	return formatTime(*t)
}
