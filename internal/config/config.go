// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for nightsync. It also provides a
// file-watch based change notifier: instead of components observing shared
// mutable settings, the watcher emits explicit typed events on a channel
// that the sync coordinator subscribes to.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Sync     SyncConfig     `toml:"sync"`
	Schedule ScheduleConfig `toml:"schedule"`
	Logging  LoggingConfig  `toml:"logging"`
}

// ServerConfig holds the remote Nightscout connection settings. Either
// APISecret or Token must be set for uploads to be attempted; when both are
// present the hashed secret is sent as a header and the token as a query
// parameter.
type ServerConfig struct {
	URL       string `toml:"url"`
	Port      int    `toml:"port"` // 0 = use the URL's default port
	APISecret string `toml:"api_secret"`
	Token     string `toml:"token"`
}

// SyncConfig controls sync engine behavior: role gating, upload windows,
// filtering and batch limits.
type SyncConfig struct {
	Enabled           bool   `toml:"enabled"`
	Master            bool   `toml:"master"`
	UploadSensorStart bool   `toml:"upload_sensor_start"`
	Interval          string `toml:"interval"` // watch-mode trigger interval

	MaxUploadWindowDays  int    `toml:"max_upload_window_days"`
	MinReadingSpacing    string `toml:"min_reading_spacing"`
	MaxReadingsPerUpload int    `toml:"max_readings_per_upload"`
	MaxTreatmentsPerSync int    `toml:"max_treatments_per_sync"`

	DeviceName string `toml:"device_name"` // reported as enteredBy / device
}

// ScheduleConfig gates uploads to configured time-of-day windows.
// When disabled, uploads run whenever triggered.
type ScheduleConfig struct {
	Enabled bool           `toml:"enabled"`
	Windows []WindowConfig `toml:"windows"`
}

// WindowConfig is a single weekly upload window. Days are lowercase
// three-letter names ("mon".."sun"); an empty list means every day.
// Start and End are "HH:MM" local times; End must be after Start.
type WindowConfig struct {
	Days  []string `toml:"days"`
	Start string   `toml:"start"`
	End   string   `toml:"end"`
}

// LoggingConfig controls log output behavior: level, file destination,
// and rotation.
type LoggingConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"` // empty = stderr only
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// Default sync limits. The reading cap mirrors the Nightscout entries
// endpoint payload limit (~100 KiB, roughly 400 records) with headroom.
// The treatment limit is shared between upload and download so the
// download pass can recover server ids for interrupted uploads.
const (
	DefaultMaxUploadWindowDays  = 7
	DefaultMaxReadingsPerUpload = 300
	DefaultMaxTreatmentsPerSync = 50
	DefaultMinReadingSpacing    = 4*time.Minute + 45*time.Second
	DefaultInterval             = 5 * time.Minute
	DefaultDeviceName           = "nightsync"
)

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			Enabled:              true,
			Master:               true,
			UploadSensorStart:    true,
			Interval:             DefaultInterval.String(),
			MaxUploadWindowDays:  DefaultMaxUploadWindowDays,
			MinReadingSpacing:    DefaultMinReadingSpacing.String(),
			MaxReadingsPerUpload: DefaultMaxReadingsPerUpload,
			MaxTreatmentsPerSync: DefaultMaxTreatmentsPerSync,
			DeviceName:           DefaultDeviceName,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// MinReadingSpacingDuration parses the configured minimum spacing, falling
// back to the default on empty or invalid values. Validation reports invalid
// values as errors; this accessor never fails so the engine can always run.
func (s *SyncConfig) MinReadingSpacingDuration() time.Duration {
	d, err := time.ParseDuration(s.MinReadingSpacing)
	if err != nil || d <= 0 {
		return DefaultMinReadingSpacing
	}

	return d
}

// IntervalDuration parses the watch-mode trigger interval, falling back
// to the default on empty or invalid values.
func (s *SyncConfig) IntervalDuration() time.Duration {
	d, err := time.ParseDuration(s.Interval)
	if err != nil || d <= 0 {
		return DefaultInterval
	}

	return d
}

// HasCredentials reports whether at least one authentication mechanism is
// configured. Uploads are skipped entirely without credentials.
func (s *ServerConfig) HasCredentials() bool {
	return s.APISecret != "" || s.Token != ""
}
