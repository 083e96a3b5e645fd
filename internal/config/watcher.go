package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventKind classifies a configuration change.
type EventKind int

const (
	// EventCredentials fires when URL, port, secret or token changed.
	// The coordinator re-verifies credentials and, on success, re-syncs.
	EventCredentials EventKind = iota
	// EventSync fires for any other change (enabled flag, schedule,
	// limits). The coordinator triggers a plain re-sync.
	EventSync
)

// Event is a configuration change notification carrying the freshly
// reloaded configuration.
type Event struct {
	Kind   EventKind
	Config *Config
}

// Editors fire several filesystem events per save; changes within this
// window collapse into one notification.
const debounceDelay = 200 * time.Millisecond

// Watcher observes the config file and emits Events on a channel. It
// replaces implicit shared-settings observation with an explicit channel
// the coordinator subscribes to.
type Watcher struct {
	path    string
	current *Config
	events  chan Event
	logger  *slog.Logger
}

// NewWatcher creates a Watcher for the given config path. The initial
// config is used as the baseline for change classification.
func NewWatcher(path string, initial *Config, logger *slog.Logger) *Watcher {
	return &Watcher{
		path:    path,
		current: initial,
		events:  make(chan Event, 1),
		logger:  logger,
	}
}

// Events returns the channel change notifications are delivered on.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run watches the config file until the context is canceled. The parent
// directory is watched rather than the file itself because editors replace
// files on save, which drops a direct file watch.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("config: watching %s: %w", filepath.Dir(w.path), err)
	}

	w.logger.Info("watching config file", slog.String("path", w.path))

	var debounce *time.Timer

	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}

			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}

			if debounce == nil {
				debounce = time.NewTimer(debounceDelay)
				debounceC = debounce.C
			} else {
				debounce.Reset(debounceDelay)
			}

		case <-debounceC:
			debounce = nil
			debounceC = nil
			w.reload()

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("config watch error", slog.String("error", watchErr.Error()))
		}
	}
}

// reload re-reads the config file, classifies the change against the
// previous config, and emits an event. Parse or validation failures keep
// the previous config active.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping current config",
			slog.String("error", err.Error()))

		return
	}

	kind := EventSync
	if credentialsChanged(w.current, cfg) {
		kind = EventCredentials
	}

	w.current = cfg

	// Drop-oldest: only the latest config matters.
	select {
	case <-w.events:
	default:
	}

	w.events <- Event{Kind: kind, Config: cfg}

	w.logger.Info("config reloaded", slog.Int("kind", int(kind)))
}

// credentialsChanged reports whether any server connection setting differs.
func credentialsChanged(old, next *Config) bool {
	return old.Server.URL != next.Server.URL ||
		old.Server.Port != next.Server.Port ||
		old.Server.APISecret != next.Server.APISecret ||
		old.Server.Token != next.Server.Token
}
