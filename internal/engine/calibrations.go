package engine

import (
	"context"
	"fmt"

	"github.com/nightsync/nightsync/internal/nightscout"
)

// uploadCalibrations pushes calibrations newer than their watermark. Each
// calibration expands to two entry records sharing a timestamp: a cal
// record carrying the slope/intercept and an mbg record carrying the
// meter value. Calibrations are rare, so no batching or spacing applies.
func (c *Coordinator) uploadCalibrations(ctx context.Context) error {
	watermark, err := c.store.LastUploadedCalibrationTime(ctx)
	if err != nil {
		return fmt.Errorf("calibration watermark: %w", err)
	}

	floor := c.nowFunc().AddDate(0, 0, -c.cfg.WindowDays)
	if watermark.Before(floor) {
		watermark = floor
	}

	cals, err := c.store.CalibrationsAfter(ctx, watermark)
	if err != nil {
		return fmt.Errorf("load calibrations: %w", err)
	}

	if len(cals) == 0 {
		return nil
	}

	entries := make([]nightscout.Entry, 0, 2*len(cals))
	for _, cal := range cals {
		entries = append(entries, calibrationToEntries(cal, c.cfg.DeviceName)...)
	}

	if err := c.gateway.UploadEntries(ctx, entries); err != nil {
		return fmt.Errorf("upload calibrations: %w", err)
	}

	watermark = cals[len(cals)-1].Timestamp
	if err := c.store.SetLastUploadedCalibrationTime(ctx, watermark); err != nil {
		return fmt.Errorf("advance calibration watermark: %w", err)
	}

	c.logger.Info("calibrations uploaded", "count", len(cals), "newest", watermark)

	return nil
}

func calibrationToEntries(cal Calibration, device string) []nightscout.Entry {
	date := cal.Timestamp.UnixMilli()
	dateString := cal.Timestamp.UTC().Format(nightscout.TimeLayout)

	return []nightscout.Entry{
		{
			Device:     device,
			Date:       date,
			DateString: dateString,
			Type:       nightscout.EntryTypeCal,
			Slope:      cal.Slope,
			Intercept:  cal.Intercept,
			Scale:      1,
		},
		{
			Device:     device,
			Date:       date,
			DateString: dateString,
			Type:       nightscout.EntryTypeMBG,
			MBG:        cal.BG,
		},
	}
}
