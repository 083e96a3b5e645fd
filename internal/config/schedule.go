package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// weekdayNames maps config day names to time.Weekday values.
var weekdayNames = map[string]time.Weekday{
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
	"sun": time.Sunday,
}

// parseClock parses an "HH:MM" string into minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("time %q must be HH:MM", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("time %q has invalid hour", s)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("time %q has invalid minute", s)
	}

	return hour*60 + minute, nil
}

// ActiveAt reports whether uploads are permitted at the given time.
// A disabled schedule always permits; an enabled schedule with no windows
// never does, which validation warns about but does not forbid.
func (s *ScheduleConfig) ActiveAt(t time.Time) bool {
	if !s.Enabled {
		return true
	}

	minutes := t.Hour()*60 + t.Minute()

	for i := range s.Windows {
		w := &s.Windows[i]

		if !w.matchesDay(t.Weekday()) {
			continue
		}

		start, err := parseClock(w.Start)
		if err != nil {
			continue
		}

		end, err := parseClock(w.End)
		if err != nil {
			continue
		}

		if minutes >= start && minutes < end {
			return true
		}
	}

	return false
}

// matchesDay reports whether the window applies on the given weekday.
func (w *WindowConfig) matchesDay(day time.Weekday) bool {
	if len(w.Days) == 0 {
		return true
	}

	for _, name := range w.Days {
		if wd, ok := weekdayNames[strings.ToLower(name)]; ok && wd == day {
			return true
		}
	}

	return false
}
