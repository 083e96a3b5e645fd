package engine

import (
	"context"
	"testing"
	"time"
)

// base is the fixed test clock; readings are placed relative to it.
var base = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func readingAt(offset time.Duration, value float64) Reading {
	return Reading{Timestamp: base.Add(offset), Value: value, Direction: "Flat"}
}

func TestFilterBySpacing_DropsCloseReadings(t *testing.T) {
	t.Parallel()

	spacing := 4*time.Minute + 45*time.Second

	readings := []Reading{
		readingAt(0, 100),
		readingAt(1*time.Minute, 101),
		readingAt(2*time.Minute, 102),
		readingAt(3*time.Minute, 103),
		readingAt(5*time.Minute, 105),
	}

	kept := filterBySpacing(readings, spacing, time.Time{})

	if len(kept) != 2 {
		t.Fatalf("kept %d readings, want 2", len(kept))
	}

	if kept[0].Value != 100 || kept[1].Value != 105 {
		t.Errorf("kept values %v and %v, want 100 and 105", kept[0].Value, kept[1].Value)
	}
}

func TestFilterBySpacing_ConnectionChangeOverrides(t *testing.T) {
	t.Parallel()

	spacing := 4*time.Minute + 45*time.Second

	readings := []Reading{
		readingAt(0, 100),
		readingAt(2*time.Minute, 102),
		readingAt(5*time.Minute, 105),
	}

	// A reconnect between the first two readings keeps the close one.
	statusChange := base.Add(1 * time.Minute)

	kept := filterBySpacing(readings, spacing, statusChange)

	if len(kept) != 2 {
		t.Fatalf("kept %d readings, want 2", len(kept))
	}

	if kept[1].Value != 102 {
		t.Errorf("second kept value %v, want 102 (after reconnect)", kept[1].Value)
	}
}

func TestFilterBySpacing_EmptyAndZeroSpacing(t *testing.T) {
	t.Parallel()

	if got := filterBySpacing(nil, time.Minute, time.Time{}); len(got) != 0 {
		t.Errorf("filtering nil returned %d readings", len(got))
	}

	readings := []Reading{readingAt(0, 1), readingAt(time.Second, 2)}
	if got := filterBySpacing(readings, 0, time.Time{}); len(got) != 2 {
		t.Errorf("zero spacing filtered to %d readings, want all 2", len(got))
	}
}

func TestUploadReadings_AdvancesWatermark(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		readings: []Reading{
			readingAt(-30*time.Minute, 100),
			readingAt(-20*time.Minute, 110),
			readingAt(-10*time.Minute, 120),
		},
	}
	gateway := &fakeGateway{}
	c := newTestCoordinator(t, store, gateway, testConfig())

	if err := c.uploadReadings(context.Background()); err != nil {
		t.Fatalf("uploadReadings: %v", err)
	}

	if got := gateway.entryCount(); got != 3 {
		t.Errorf("uploaded %d entries, want 3", got)
	}

	want := base.Add(-10 * time.Minute)
	if !store.readingWM.Equal(want) {
		t.Errorf("watermark %v, want %v", store.readingWM, want)
	}
}

func TestUploadReadings_SecondPassUploadsNothing(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		readings: []Reading{readingAt(-10*time.Minute, 120)},
	}
	gateway := &fakeGateway{}
	c := newTestCoordinator(t, store, gateway, testConfig())

	ctx := context.Background()

	if err := c.uploadReadings(ctx); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	if err := c.uploadReadings(ctx); err != nil {
		t.Fatalf("second pass: %v", err)
	}

	if got := len(gateway.entryBatches); got != 1 {
		t.Errorf("server saw %d batches, want 1 (second pass should be a no-op)", got)
	}
}

func TestUploadReadings_CapsBatchAndContinues(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MinReadingSpacing = 0
	cfg.MaxReadingsPerUpload = 300

	store := &fakeStore{}
	for i := 0; i < 310; i++ {
		store.readings = append(store.readings, readingAt(-time.Duration(310-i)*time.Minute, float64(100+i)))
	}

	gateway := &fakeGateway{}
	c := newTestCoordinator(t, store, gateway, cfg)

	if err := c.uploadReadings(context.Background()); err != nil {
		t.Fatalf("uploadReadings: %v", err)
	}

	if got := len(gateway.entryBatches); got != 2 {
		t.Fatalf("server saw %d batches, want 2", got)
	}

	if got := len(gateway.entryBatches[0]); got != 300 {
		t.Errorf("first batch has %d entries, want 300", got)
	}

	if got := len(gateway.entryBatches[1]); got != 10 {
		t.Errorf("second batch has %d entries, want 10", got)
	}

	// Oldest first: the first batch starts with the oldest reading.
	if gateway.entryBatches[0][0].SGV != 100 {
		t.Errorf("first uploaded SGV %d, want 100 (oldest)", gateway.entryBatches[0][0].SGV)
	}
}

func TestUploadReadings_FailureKeepsWatermark(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		readings: []Reading{readingAt(-10*time.Minute, 120)},
	}
	gateway := &fakeGateway{entriesErr: errStoreFailure}
	c := newTestCoordinator(t, store, gateway, testConfig())

	if err := c.uploadReadings(context.Background()); err == nil {
		t.Fatal("uploadReadings succeeded despite gateway failure")
	}

	if !store.readingWM.IsZero() {
		t.Errorf("watermark advanced to %v despite failure", store.readingWM)
	}
}

func TestUploadReadings_WindowFloorSkipsOldReadings(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		readings: []Reading{
			readingAt(-8*24*time.Hour, 90), // outside the 7-day window
			readingAt(-10*time.Minute, 120),
		},
	}
	gateway := &fakeGateway{}
	c := newTestCoordinator(t, store, gateway, testConfig())

	if err := c.uploadReadings(context.Background()); err != nil {
		t.Fatalf("uploadReadings: %v", err)
	}

	if got := gateway.entryCount(); got != 1 {
		t.Fatalf("uploaded %d entries, want 1", got)
	}

	if gateway.entryBatches[0][0].SGV != 120 {
		t.Errorf("uploaded SGV %d, want 120", gateway.entryBatches[0][0].SGV)
	}
}

func TestReadingToEntry(t *testing.T) {
	t.Parallel()

	r := Reading{Timestamp: base, Value: 123.6, Direction: "FortyFiveUp"}
	e := readingToEntry(r, "dev")

	if e.SGV != 124 {
		t.Errorf("SGV %d, want 124 (rounded)", e.SGV)
	}

	if e.Date != base.UnixMilli() {
		t.Errorf("Date %d, want %d", e.Date, base.UnixMilli())
	}

	if e.Type != "sgv" || e.Device != "dev" || e.Direction != "FortyFiveUp" {
		t.Errorf("unexpected entry %+v", e)
	}

	if e.DateString != "2026-08-30T12:00:00.000Z" {
		t.Errorf("DateString %q", e.DateString)
	}
}
