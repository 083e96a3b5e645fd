package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nightsync/nightsync/internal/nightscout"
)

// testLogger returns a debug-level logger that writes to t.Log,
// so all engine activity appears in test output.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

// fakeStore is an in-memory Store with configurable failures.
type fakeStore struct {
	mu sync.Mutex

	readings     []Reading
	calibrations []Calibration
	treatments   []Treatment
	sensor       *Sensor

	readingWM    time.Time
	calWM        time.Time
	statusChange time.Time
	battery      *BatteryInfo
	lastBattery  *BatteryInfo

	saveCalls [][]Treatment

	failSetReadingWM bool
	failSave         bool
}

var errStoreFailure = errors.New("store failure")

func (s *fakeStore) ReadingsAfter(_ context.Context, t time.Time) ([]Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Reading
	for _, r := range s.readings {
		if r.Timestamp.After(t) {
			out = append(out, r)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	return out, nil
}

func (s *fakeStore) CalibrationsAfter(_ context.Context, t time.Time) ([]Calibration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Calibration
	for _, c := range s.calibrations {
		if c.Timestamp.After(t) {
			out = append(out, c)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	return out, nil
}

func (s *fakeStore) LatestTreatments(_ context.Context, limit int) ([]Treatment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Treatment, len(s.treatments))
	copy(out, s.treatments)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })

	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (s *fakeStore) TreatmentExists(_ context.Context, remoteID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.treatments {
		if t.RemoteID == remoteID {
			return true, nil
		}
	}

	return false, nil
}

func (s *fakeStore) SaveTreatments(_ context.Context, treatments []Treatment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failSave {
		return errStoreFailure
	}

	batch := make([]Treatment, len(treatments))
	copy(batch, treatments)
	s.saveCalls = append(s.saveCalls, batch)

	for _, t := range treatments {
		replaced := false

		for i := range s.treatments {
			if s.treatments[i].LocalID == t.LocalID {
				s.treatments[i] = t
				replaced = true

				break
			}
		}

		if !replaced {
			s.treatments = append(s.treatments, t)
		}
	}

	return nil
}

func (s *fakeStore) ActiveSensor(_ context.Context) (*Sensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sensor == nil {
		return nil, nil
	}

	copied := *s.sensor

	return &copied, nil
}

func (s *fakeStore) MarkSensorUploaded(_ context.Context, sensorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sensor != nil && s.sensor.ID == sensorID {
		s.sensor.UploadedToRemote = true
	}

	return nil
}

func (s *fakeStore) LastUploadedReadingTime(_ context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readingWM, nil
}

func (s *fakeStore) SetLastUploadedReadingTime(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failSetReadingWM {
		return errStoreFailure
	}

	s.readingWM = t

	return nil
}

func (s *fakeStore) LastUploadedCalibrationTime(_ context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calWM, nil
}

func (s *fakeStore) SetLastUploadedCalibrationTime(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calWM = t

	return nil
}

func (s *fakeStore) LastConnectionStatusChange(_ context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.statusChange, nil
}

func (s *fakeStore) TransmitterBattery(_ context.Context) (*BatteryInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.battery, nil
}

func (s *fakeStore) LastUploadedBattery(_ context.Context) (*BatteryInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastBattery, nil
}

func (s *fakeStore) SetLastUploadedBattery(_ context.Context, info *BatteryInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastBattery = info

	return nil
}

func (s *fakeStore) treatmentByLocalID(localID string) *Treatment {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.treatments {
		if s.treatments[i].LocalID == localID {
			copied := s.treatments[i]
			return &copied
		}
	}

	return nil
}

// fakeGateway records calls and serves configured responses.
type fakeGateway struct {
	mu sync.Mutex

	entryBatches [][]nightscout.Entry
	entriesErr   error

	treatmentBatches [][]nightscout.TreatmentRecord
	uploadResponse   []nightscout.TreatmentRecord
	uploadErr        error

	updated      []nightscout.TreatmentRecord
	updateErr    error
	updateErrIDs map[string]bool

	latest    []nightscout.TreatmentRecord
	latestErr error

	statuses  []nightscout.DeviceStatus
	statusErr error

	verifyErr error
}

func (g *fakeGateway) UploadEntries(_ context.Context, entries []nightscout.Entry) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.entriesErr != nil {
		return g.entriesErr
	}

	batch := make([]nightscout.Entry, len(entries))
	copy(batch, entries)
	g.entryBatches = append(g.entryBatches, batch)

	return nil
}

func (g *fakeGateway) UploadTreatments(_ context.Context, records []nightscout.TreatmentRecord) ([]nightscout.TreatmentRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.uploadErr != nil {
		return nil, g.uploadErr
	}

	batch := make([]nightscout.TreatmentRecord, len(records))
	copy(batch, records)
	g.treatmentBatches = append(g.treatmentBatches, batch)

	return g.uploadResponse, nil
}

func (g *fakeGateway) UpdateTreatment(_ context.Context, record nightscout.TreatmentRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.updateErr != nil {
		return g.updateErr
	}

	if g.updateErrIDs[record.ID] {
		return errStoreFailure
	}

	g.updated = append(g.updated, record)

	return nil
}

func (g *fakeGateway) LatestTreatments(_ context.Context, _ int) ([]nightscout.TreatmentRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.latest, g.latestErr
}

func (g *fakeGateway) UploadDeviceStatus(_ context.Context, status nightscout.DeviceStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.statusErr != nil {
		return g.statusErr
	}

	g.statuses = append(g.statuses, status)

	return nil
}

func (g *fakeGateway) VerifyCredentials(_ context.Context) error {
	return g.verifyErr
}

func (g *fakeGateway) entryCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	total := 0
	for _, b := range g.entryBatches {
		total += len(b)
	}

	return total
}

// testConfig returns engine knobs sized for tests.
func testConfig() Config {
	return Config{
		DeviceName:           "test-device",
		Master:               true,
		UploadSensorStart:    true,
		WindowDays:           7,
		MinReadingSpacing:    4*time.Minute + 45*time.Second,
		MaxReadingsPerUpload: 300,
		MaxTreatmentsPerSync: 50,
	}
}

// newTestCoordinator wires a coordinator over fakes with a fixed clock.
func newTestCoordinator(t *testing.T, store *fakeStore, gateway *fakeGateway, cfg Config) *Coordinator {
	t.Helper()

	c := NewCoordinator(store, gateway, cfg, nil, testLogger(t))
	c.nowFunc = func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) }

	return c
}
