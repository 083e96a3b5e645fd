package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nightsync/nightsync/internal/config"
	"github.com/nightsync/nightsync/internal/engine"
	"github.com/nightsync/nightsync/internal/nightscout"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagStatePath  string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// cfg holds the configuration loaded by PersistentPreRunE, available to
// all subcommands.
var cfg *config.Config

// httpClientTimeout bounds every Nightscout request. Prevents a hung
// upload from blocking the sync pass indefinitely.
const httpClientTimeout = 30 * time.Second

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// newRootCmd builds the fully-assembled root command with all subcommands
// registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "nightsync",
		Short:   "Nightscout sync client",
		Long:    "A CGM data sync client that uploads glucose readings, calibrations and device status to a Nightscout server and keeps treatments in two-way sync.",
		Version: version,
		// Silence Cobra's default error/usage printing, handled in main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagStatePath, "state", "", "state database path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newImportCmd())

	return cmd
}

// configPath returns the effective config file path: the flag if set,
// otherwise the platform default.
func configPath() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}

	return config.DefaultConfigPath()
}

// statePath returns the effective state database path.
func statePath() string {
	if flagStatePath != "" {
		return flagStatePath
	}

	return config.DefaultStatePath()
}

func loadConfig() error {
	loaded, err := config.LoadOrDefault(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg = loaded

	return nil
}

// buildLogger creates an slog.Logger from the logging config and CLI
// flags. The config level is the baseline; --verbose and --quiet override
// it. When a log file is configured, output goes to both the rotated file
// and stderr.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	var out io.Writer = os.Stderr
	if cfg.Logging.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		})
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

// buildClient constructs the Nightscout client from the server config.
func buildClient(logger *slog.Logger) *nightscout.Client {
	s := cfg.Server

	return nightscout.NewClient(s.URL, s.Port, s.APISecret, s.Token, defaultHTTPClient(), logger)
}

// buildCoordinator opens the state store and wires the sync coordinator.
// The caller must Close the returned store.
func buildCoordinator(logger *slog.Logger, notifier engine.Notifier) (*engine.Coordinator, *engine.SQLiteStore, error) {
	store, err := engine.NewStore(statePath(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening state database: %w", err)
	}

	coord := engine.NewCoordinator(store, buildClient(logger), engineConfigFrom(cfg), notifier, logger)

	return coord, store, nil
}

// engineConfigFrom maps the file configuration onto the engine's knobs.
func engineConfigFrom(c *config.Config) engine.Config {
	return engine.Config{
		DeviceName:           c.Sync.DeviceName,
		Master:               c.Sync.Master,
		UploadSensorStart:    c.Sync.UploadSensorStart,
		WindowDays:           c.Sync.MaxUploadWindowDays,
		MinReadingSpacing:    c.Sync.MinReadingSpacingDuration(),
		MaxReadingsPerUpload: c.Sync.MaxReadingsPerUpload,
		MaxTreatmentsPerSync: c.Sync.MaxTreatmentsPerSync,
		ScheduleActive:       c.Schedule.ActiveAt,
	}
}

// requireCredentials rejects commands that need a server connection when
// no credentials are configured.
func requireCredentials() error {
	if !cfg.Server.HasCredentials() {
		return fmt.Errorf("no credentials configured: set api_secret or token in %s", configPath())
	}

	if cfg.Server.URL == "" {
		return fmt.Errorf("no server URL configured: set url in %s", configPath())
	}

	return nil
}
