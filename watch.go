package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nightsync/nightsync/internal/config"
	"github.com/nightsync/nightsync/internal/engine"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run sync continuously",
		Long: `Run the sync engine in the foreground: a sync pass fires on the
configured interval, and the config file is watched for changes. A
credentials change triggers re-verification; other changes take effect
immediately. Stop with Ctrl-C.`,
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	if !cfg.Sync.Enabled {
		return fmt.Errorf("sync is disabled in %s", configPath())
	}

	if err := requireCredentials(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := buildLogger()
	notifier := notifierFromFlags()

	coord, store, err := buildCoordinator(logger, notifier)
	if err != nil {
		return err
	}
	defer store.Close()

	w := &watchLoop{
		store:    store,
		coord:    coord,
		notifier: notifier,
		logger:   logger,
	}

	return w.run(ctx)
}

// watchLoop holds the live state of the watch command. The coordinator is
// replaced when the config file changes; the store stays open for the
// lifetime of the command.
type watchLoop struct {
	store    *engine.SQLiteStore
	coord    *engine.Coordinator
	notifier engine.Notifier
	logger   *slog.Logger
}

func (w *watchLoop) run(ctx context.Context) error {
	watcher := config.NewWatcher(configPath(), cfg, w.logger)

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- watcher.Run(ctx)
	}()

	interval := cfg.Sync.IntervalDuration()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statusf("Watching; syncing every %s. Press Ctrl-C to stop.\n", interval)

	// Initial pass before the first tick.
	w.coord.RequestSync(ctx)

	for {
		select {
		case <-ctx.Done():
			w.coord.Wait()
			return nil

		case err := <-watchErr:
			w.coord.Wait()
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("config watcher: %w", err)
			}

			return nil

		case <-ticker.C:
			if cfg.Sync.Enabled {
				w.coord.RequestSync(ctx)
			}

		case ev := <-watcher.Events():
			w.applyConfigChange(ctx, ev, ticker)
		}
	}
}

// applyConfigChange swaps in a coordinator built against the changed
// settings and adjusts the tick interval. A credentials change
// re-verifies against the server in the background before the next pass.
// The previous coordinator finishes any active run on the old settings.
func (w *watchLoop) applyConfigChange(ctx context.Context, ev config.Event, ticker *time.Ticker) {
	cfg = ev.Config
	ticker.Reset(cfg.Sync.IntervalDuration())

	client := buildClient(w.logger)
	w.coord = engine.NewCoordinator(w.store, client, engineConfigFrom(cfg), w.notifier, w.logger)

	if !cfg.Sync.Enabled {
		w.logger.Info("sync disabled by config change, pausing until re-enabled")
		return
	}

	if ev.Kind == config.EventCredentials {
		w.logger.Info("credentials changed, re-verifying")

		go func() {
			if err := client.VerifyCredentials(ctx); err != nil {
				w.notifier.Notify("Credentials rejected",
					"The changed credentials were refused by the server. Check the API secret or token.")
				w.logger.Error("credential verification failed", "error", err)

				return
			}

			w.notifier.Notify("Credentials verified", "The changed credentials were accepted.")
			w.coord.RequestSync(ctx)
		}()

		return
	}

	w.coord.RequestSync(ctx)
}
