package main

import (
	"testing"
	"time"

	"github.com/nightsync/nightsync/internal/config"
)

func TestEngineConfigFrom(t *testing.T) {
	c := config.DefaultConfig()
	c.Sync.DeviceName = "dev"
	c.Sync.Master = false
	c.Sync.MinReadingSpacing = "3m"
	c.Sync.MaxReadingsPerUpload = 100

	ecfg := engineConfigFrom(c)

	if ecfg.DeviceName != "dev" || ecfg.Master {
		t.Errorf("engine config %+v", ecfg)
	}

	if ecfg.MinReadingSpacing != 3*time.Minute {
		t.Errorf("MinReadingSpacing %v, want 3m", ecfg.MinReadingSpacing)
	}

	if ecfg.MaxReadingsPerUpload != 100 {
		t.Errorf("MaxReadingsPerUpload %d, want 100", ecfg.MaxReadingsPerUpload)
	}

	if ecfg.ScheduleActive == nil {
		t.Fatal("ScheduleActive not wired")
	}

	// Default schedule is disabled, so syncing is always allowed.
	if !ecfg.ScheduleActive(time.Now()) {
		t.Error("disabled schedule blocked syncing")
	}
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	cmd := newRootCmd()

	want := []string{"sync", "watch", "verify", "status", "add", "rm", "import"}

	for _, name := range want {
		found := false

		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}

		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
