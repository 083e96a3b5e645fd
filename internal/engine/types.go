// Package engine implements the Nightscout synchronization engine: one-way
// watermark-based upload of readings and calibrations, conditional device
// status upload, and two-way treatment sync with server-assigned id
// reconciliation. A single coordinator owns the sync lifecycle and
// coalesces overlapping triggers.
package engine

import (
	"context"
	"time"

	"github.com/nightsync/nightsync/internal/nightscout"
)

// TreatmentKind identifies what a treatment records.
type TreatmentKind string

// Treatment kinds as stored in the database kind column.
const (
	KindInsulin     TreatmentKind = "insulin"
	KindCarbs       TreatmentKind = "carbs"
	KindExercise    TreatmentKind = "exercise"
	KindNote        TreatmentKind = "note"
	KindSensorStart TreatmentKind = "sensorStart"
)

// Treatment is a clinical event (insulin bolus, carb intake, exercise,
// note). LocalID is engine-assigned and stable; RemoteID is server-assigned
// and empty until the first successful upload is confirmed. Uploaded=true
// implies RemoteID is set. A local edit resets Uploaded and keeps RemoteID,
// which routes the entry to the update path on the next sync.
type Treatment struct {
	LocalID   string
	RemoteID  string
	Kind      TreatmentKind
	Value     float64 // unit depends on Kind: units, grams, minutes
	Note      string
	Timestamp time.Time
	Uploaded  bool
}

// Reading is a single glucose measurement. Immutable once persisted; the
// uploaded set is tracked by a single watermark timestamp rather than
// per-record flags.
type Reading struct {
	Timestamp time.Time
	Value     float64 // mg/dL
	Direction string  // trend arrow slug, e.g. "Flat"
	SensorID  string
}

// Calibration pairs a meter blood glucose value with the slope/intercept
// it produced. Uploads expand each calibration into a cal and an mbg wire
// record.
type Calibration struct {
	Timestamp time.Time
	BG        float64 // meter value, mg/dL
	Slope     float64
	Intercept float64
}

// Sensor is a CGM sensor session. Its start event is uploaded to the
// remote at most once, guarded by the persisted UploadedToRemote flag.
type Sensor struct {
	ID               string
	StartedAt        time.Time
	UploadedToRemote bool
}

// BatteryInfo is the latest transmitter battery metric plus the uploader
// device's own battery level, as recorded by the ingest side.
type BatteryInfo struct {
	MetricKey     string // wire key of the transmitter metric, e.g. "battery" or "batteryVoltage"
	MetricValue   int
	UploaderLevel int // local device battery percentage
}

// Outcome is the tagged result of a network operation: success with a flag
// telling the coordinator whether new or changed entities were pulled from
// the server, or failure.
type Outcome struct {
	OK           bool
	LocalChanges bool
}

// Success returns a successful Outcome.
func Success(localChanges bool) Outcome {
	return Outcome{OK: true, LocalChanges: localChanges}
}

// Failed returns a failed Outcome.
func Failed() Outcome {
	return Outcome{}
}

// Store is the data-access collaborator. The engine borrows entities for
// the duration of a sync step and writes back through it; it never owns
// entity storage. Implemented by SQLiteStore; tests use lightweight fakes.
type Store interface {
	// Readings and calibrations, ascending by timestamp, strictly after t.
	ReadingsAfter(ctx context.Context, t time.Time) ([]Reading, error)
	CalibrationsAfter(ctx context.Context, t time.Time) ([]Calibration, error)

	// Treatments, most recent first.
	LatestTreatments(ctx context.Context, limit int) ([]Treatment, error)
	TreatmentExists(ctx context.Context, remoteID string) (bool, error)
	// SaveTreatments upserts the batch in a single transaction.
	SaveTreatments(ctx context.Context, treatments []Treatment) error

	ActiveSensor(ctx context.Context) (*Sensor, error)
	MarkSensorUploaded(ctx context.Context, sensorID string) error

	// Watermarks and device state. Zero time means "never".
	LastUploadedReadingTime(ctx context.Context) (time.Time, error)
	SetLastUploadedReadingTime(ctx context.Context, t time.Time) error
	LastUploadedCalibrationTime(ctx context.Context) (time.Time, error)
	SetLastUploadedCalibrationTime(ctx context.Context, t time.Time) error
	LastConnectionStatusChange(ctx context.Context) (time.Time, error)
	TransmitterBattery(ctx context.Context) (*BatteryInfo, error)
	LastUploadedBattery(ctx context.Context) (*BatteryInfo, error)
	SetLastUploadedBattery(ctx context.Context, info *BatteryInfo) error
}

// Gateway is the remote service collaborator, implemented by
// *nightscout.Client. Defined at the consumer per Go convention.
type Gateway interface {
	UploadEntries(ctx context.Context, entries []nightscout.Entry) error
	UploadTreatments(ctx context.Context, records []nightscout.TreatmentRecord) ([]nightscout.TreatmentRecord, error)
	UpdateTreatment(ctx context.Context, record nightscout.TreatmentRecord) error
	LatestTreatments(ctx context.Context, count int) ([]nightscout.TreatmentRecord, error)
	UploadDeviceStatus(ctx context.Context, status nightscout.DeviceStatus) error
	VerifyCredentials(ctx context.Context) error
}

// Notifier receives user-visible outcome notifications as title/message
// pairs. Routine upload failures are not surfaced here; credential
// verification results are.
type Notifier interface {
	Notify(title, message string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(title, message string)

// Notify implements Notifier.
func (f NotifierFunc) Notify(title, message string) {
	f(title, message)
}
