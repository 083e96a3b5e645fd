package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	maxPort             = 65535
	minReadingsCap      = 1
	maxReadingsCap      = 400 // Nightscout entries payload limit
	minTreatmentsCap    = 1
	maxTreatmentsCap    = 100
	minUploadWindowDays = 1
	maxUploadWindowDays = 90
)

// Valid logging levels.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateSchedule(&cfg.Schedule)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if s.URL != "" {
		u, err := url.Parse(s.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.url %q is not a valid URL", s.URL))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("server.url scheme must be http or https, got %q", u.Scheme))
		}
	}

	if s.Port < 0 || s.Port > maxPort {
		errs = append(errs, fmt.Errorf("server.port must be between 0 and %d, got %d", maxPort, s.Port))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.MaxUploadWindowDays < minUploadWindowDays || s.MaxUploadWindowDays > maxUploadWindowDays {
		errs = append(errs, fmt.Errorf("sync.max_upload_window_days must be between %d and %d, got %d",
			minUploadWindowDays, maxUploadWindowDays, s.MaxUploadWindowDays))
	}

	if s.MaxReadingsPerUpload < minReadingsCap || s.MaxReadingsPerUpload > maxReadingsCap {
		errs = append(errs, fmt.Errorf("sync.max_readings_per_upload must be between %d and %d, got %d",
			minReadingsCap, maxReadingsCap, s.MaxReadingsPerUpload))
	}

	if s.MaxTreatmentsPerSync < minTreatmentsCap || s.MaxTreatmentsPerSync > maxTreatmentsCap {
		errs = append(errs, fmt.Errorf("sync.max_treatments_per_sync must be between %d and %d, got %d",
			minTreatmentsCap, maxTreatmentsCap, s.MaxTreatmentsPerSync))
	}

	if s.MinReadingSpacing != "" {
		if d, err := time.ParseDuration(s.MinReadingSpacing); err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("sync.min_reading_spacing %q is not a valid duration", s.MinReadingSpacing))
		}
	}

	if s.Interval != "" {
		if d, err := time.ParseDuration(s.Interval); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("sync.interval %q is not a valid duration", s.Interval))
		}
	}

	return errs
}

func validateSchedule(s *ScheduleConfig) []error {
	var errs []error

	for i := range s.Windows {
		w := &s.Windows[i]

		for _, day := range w.Days {
			if _, ok := weekdayNames[strings.ToLower(day)]; !ok {
				errs = append(errs, fmt.Errorf("schedule.windows[%d]: unknown day %q", i, day))
			}
		}

		start, err := parseClock(w.Start)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule.windows[%d].start: %w", i, err))
		}

		end, err := parseClock(w.End)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule.windows[%d].end: %w", i, err))
		}

		if err == nil && end <= start {
			errs = append(errs, fmt.Errorf("schedule.windows[%d]: end %q must be after start %q", i, w.End, w.Start))
		}
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.Level] {
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", l.Level))
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, fmt.Errorf("logging.max_size_mb must be at least 1, got %d", l.MaxSizeMB))
	}

	if l.MaxBackups < 0 {
		errs = append(errs, fmt.Errorf("logging.max_backups must not be negative, got %d", l.MaxBackups))
	}

	return errs
}
