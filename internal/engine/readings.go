package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nightsync/nightsync/internal/nightscout"
)

// uploadReadings pushes glucose readings newer than the watermark, oldest
// first, in capped batches. The watermark only advances after the server
// accepts a batch, so a failure re-offers the same readings next pass.
func (c *Coordinator) uploadReadings(ctx context.Context) error {
	watermark, err := c.store.LastUploadedReadingTime(ctx)
	if err != nil {
		return fmt.Errorf("reading watermark: %w", err)
	}

	floor := c.nowFunc().AddDate(0, 0, -c.cfg.WindowDays)
	if watermark.Before(floor) {
		watermark = floor
	}

	statusChange, err := c.store.LastConnectionStatusChange(ctx)
	if err != nil {
		return fmt.Errorf("connection status change: %w", err)
	}

	for {
		readings, err := c.store.ReadingsAfter(ctx, watermark)
		if err != nil {
			return fmt.Errorf("load readings: %w", err)
		}

		batch := filterBySpacing(readings, c.cfg.MinReadingSpacing, statusChange)
		if len(batch) == 0 {
			return nil
		}

		more := false
		if len(batch) > c.cfg.MaxReadingsPerUpload {
			batch = batch[:c.cfg.MaxReadingsPerUpload]
			more = true
		}

		entries := make([]nightscout.Entry, 0, len(batch))
		for _, r := range batch {
			entries = append(entries, readingToEntry(r, c.cfg.DeviceName))
		}

		if err := c.gateway.UploadEntries(ctx, entries); err != nil {
			return fmt.Errorf("upload readings: %w", err)
		}

		watermark = batch[len(batch)-1].Timestamp
		if err := c.store.SetLastUploadedReadingTime(ctx, watermark); err != nil {
			return fmt.Errorf("advance reading watermark: %w", err)
		}

		c.logger.Info("readings uploaded", "count", len(batch), "newest", watermark)

		if !more {
			return nil
		}
	}
}

// filterBySpacing thins an ascending reading list so consecutive kept
// readings are at least minSpacing apart. A connection status change
// between two readings overrides the spacing rule: the reading right
// after a reconnect is always kept, since the gap before it is sensor
// downtime rather than redundancy.
func filterBySpacing(readings []Reading, minSpacing time.Duration, statusChange time.Time) []Reading {
	if len(readings) == 0 || minSpacing <= 0 {
		return readings
	}

	kept := make([]Reading, 0, len(readings))
	kept = append(kept, readings[0])
	last := readings[0].Timestamp

	for _, r := range readings[1:] {
		spaced := r.Timestamp.Sub(last) >= minSpacing
		reconnected := statusChange.After(last) && !statusChange.After(r.Timestamp)

		if spaced || reconnected {
			kept = append(kept, r)
			last = r.Timestamp
		}
	}

	return kept
}

func readingToEntry(r Reading, device string) nightscout.Entry {
	return nightscout.Entry{
		Device:     device,
		Date:       r.Timestamp.UnixMilli(),
		DateString: r.Timestamp.UTC().Format(nightscout.TimeLayout),
		Type:       nightscout.EntryTypeSGV,
		SGV:        int(math.Round(r.Value)),
		Direction:  r.Direction,
	}
}
