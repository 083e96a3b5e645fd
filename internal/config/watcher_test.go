package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startWatcher writes an initial config, starts a Watcher on it, and
// returns the path plus the watcher. Run is stopped via t.Cleanup.
func startWatcher(t *testing.T, initial string) (string, *Watcher) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(initial), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("loading initial config: %v", err)
	}

	w := NewWatcher(path, cfg, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- w.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()

		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})

	// Give the fsnotify watch a moment to attach before the test writes.
	time.Sleep(50 * time.Millisecond)

	return path, w
}

// awaitEvent waits for a config event with a generous timeout.
func awaitEvent(t *testing.T, w *Watcher) Event {
	t.Helper()

	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no config event received")
		return Event{}
	}
}

const watcherInitialConfig = `
[server]
url = "https://example.com"
api_secret = "original-secret"
`

func TestWatcher_CredentialChangeClassified(t *testing.T) {
	t.Parallel()

	path, w := startWatcher(t, watcherInitialConfig)

	next := `
[server]
url = "https://example.com"
api_secret = "rotated-secret"
`
	if err := os.WriteFile(path, []byte(next), 0o600); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	ev := awaitEvent(t, w)

	if ev.Kind != EventCredentials {
		t.Errorf("event kind %v, want EventCredentials", ev.Kind)
	}

	if ev.Config.Server.APISecret != "rotated-secret" {
		t.Errorf("event carries secret %q", ev.Config.Server.APISecret)
	}
}

func TestWatcher_NonCredentialChangeClassified(t *testing.T) {
	t.Parallel()

	path, w := startWatcher(t, watcherInitialConfig)

	next := watcherInitialConfig + `
[sync]
master = false
`
	if err := os.WriteFile(path, []byte(next), 0o600); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	ev := awaitEvent(t, w)

	if ev.Kind != EventSync {
		t.Errorf("event kind %v, want EventSync", ev.Kind)
	}

	if ev.Config.Sync.Master {
		t.Error("event config still has master = true")
	}
}

func TestWatcher_InvalidConfigKeepsCurrent(t *testing.T) {
	t.Parallel()

	path, w := startWatcher(t, watcherInitialConfig)

	if err := os.WriteFile(path, []byte(`this is not TOML [`), 0o600); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	// The broken write produces no event. A following valid write is
	// classified against the last good config.
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event %+v for an invalid config", ev)
	case <-time.After(debounceDelay * 3):
	}

	next := `
[server]
url = "https://example.com"
api_secret = "rotated-secret"
`
	if err := os.WriteFile(path, []byte(next), 0o600); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	ev := awaitEvent(t, w)
	if ev.Kind != EventCredentials {
		t.Errorf("event kind %v, want EventCredentials against the last good config", ev.Kind)
	}
}

func TestWatcher_OtherFilesIgnored(t *testing.T) {
	t.Parallel()

	path, w := startWatcher(t, watcherInitialConfig)

	other := filepath.Join(filepath.Dir(path), "unrelated.txt")
	if err := os.WriteFile(other, []byte("noise"), 0o600); err != nil {
		t.Fatalf("writing unrelated file: %v", err)
	}

	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event %+v for an unrelated file", ev)
	case <-time.After(debounceDelay * 3):
	}
}
