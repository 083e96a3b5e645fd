package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass",
		Long: `Run a single sync pass against the configured Nightscout server:
upload readings, calibrations and device status (when this device is the
master), then run the two-way treatment sync.

Exit code 0 when the pass completes cleanly; 1 when any stage failed.`,
		RunE: runSync,
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
	if !cfg.Sync.Enabled {
		return fmt.Errorf("sync is disabled in %s", configPath())
	}

	if err := requireCredentials(); err != nil {
		return err
	}

	logger := buildLogger()

	coord, store, err := buildCoordinator(logger, notifierFromFlags())
	if err != nil {
		return err
	}
	defer store.Close()

	outcome := coord.SyncOnce(cmd.Context())
	if !outcome.OK {
		return fmt.Errorf("sync pass failed, see log for details")
	}

	if outcome.LocalChanges {
		statusf("Synced; remote changes were pulled into local state.\n")
	} else {
		statusf("Synced; no remote changes.\n")
	}

	return nil
}
