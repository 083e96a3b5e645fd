package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// sync_state keys.
const (
	stateKeyReadingWatermark     = "last_uploaded_reading_ms"
	stateKeyCalibrationWatermark = "last_uploaded_calibration_ms"
	stateKeyConnStatusChange     = "last_connection_status_change_ms"
	stateKeyTransmitterBattery   = "transmitter_battery"
	stateKeyUploadedBattery      = "last_uploaded_battery"
)

// SQLiteStore implements the Store interface using an embedded SQLite
// database with WAL mode. It holds the local copies of readings,
// calibrations, treatments and sensors, plus the sync watermarks.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (and if necessary creates) the entity database at dbPath
// and applies migrations. Use ":memory:" for tests.
func NewStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	logger.Info("opening entity database", "path", dbPath)

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("engine: creating state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("engine: open sqlite: %w", err)
	}

	if err := setPragmas(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("engine: set pragma %q: %w", p, err)
		}
	}

	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- readings ---

// AddReading persists a glucose reading. Called by the ingest side, not
// by the sync engine.
func (s *SQLiteStore) AddReading(ctx context.Context, r Reading) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (sensor_id, ts_ms, value, direction) VALUES (?, ?, ?, ?)`,
		r.SensorID, r.Timestamp.UnixMilli(), r.Value, r.Direction)
	if err != nil {
		return fmt.Errorf("engine: insert reading: %w", err)
	}

	return nil
}

// ReadingsAfter returns readings strictly after t, ascending by timestamp.
func (s *SQLiteStore) ReadingsAfter(ctx context.Context, t time.Time) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sensor_id, ts_ms, value, direction FROM readings WHERE ts_ms > ? ORDER BY ts_ms ASC`,
		t.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("engine: query readings: %w", err)
	}
	defer rows.Close()

	var readings []Reading

	for rows.Next() {
		var r Reading

		var ms int64

		if err := rows.Scan(&r.SensorID, &ms, &r.Value, &r.Direction); err != nil {
			return nil, fmt.Errorf("engine: scan reading: %w", err)
		}

		r.Timestamp = time.UnixMilli(ms)
		readings = append(readings, r)
	}

	return readings, rows.Err()
}

// --- calibrations ---

// AddCalibration persists a calibration. Called by the ingest side.
func (s *SQLiteStore) AddCalibration(ctx context.Context, c Calibration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calibrations (ts_ms, bg, slope, intercept) VALUES (?, ?, ?, ?)`,
		c.Timestamp.UnixMilli(), c.BG, c.Slope, c.Intercept)
	if err != nil {
		return fmt.Errorf("engine: insert calibration: %w", err)
	}

	return nil
}

// CalibrationsAfter returns calibrations strictly after t, ascending.
func (s *SQLiteStore) CalibrationsAfter(ctx context.Context, t time.Time) ([]Calibration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts_ms, bg, slope, intercept FROM calibrations WHERE ts_ms > ? ORDER BY ts_ms ASC`,
		t.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("engine: query calibrations: %w", err)
	}
	defer rows.Close()

	var cals []Calibration

	for rows.Next() {
		var c Calibration

		var ms int64

		if err := rows.Scan(&ms, &c.BG, &c.Slope, &c.Intercept); err != nil {
			return nil, fmt.Errorf("engine: scan calibration: %w", err)
		}

		c.Timestamp = time.UnixMilli(ms)
		cals = append(cals, c)
	}

	return cals, rows.Err()
}

// --- treatments ---

// LatestTreatments returns the limit most recent treatments, newest first.
func (s *SQLiteStore) LatestTreatments(ctx context.Context, limit int) ([]Treatment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT local_id, remote_id, kind, value, note, ts_ms, uploaded
		 FROM treatments ORDER BY ts_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("engine: query treatments: %w", err)
	}
	defer rows.Close()

	var treatments []Treatment

	for rows.Next() {
		t, err := scanTreatment(rows)
		if err != nil {
			return nil, err
		}

		treatments = append(treatments, t)
	}

	return treatments, rows.Err()
}

// GetTreatment returns a treatment by local id, or nil if absent.
func (s *SQLiteStore) GetTreatment(ctx context.Context, localID string) (*Treatment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT local_id, remote_id, kind, value, note, ts_ms, uploaded
		 FROM treatments WHERE local_id = ?`, localID)

	t, err := scanTreatment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &t, nil
}

// TreatmentExists reports whether any treatment carries the given remote id.
func (s *SQLiteStore) TreatmentExists(ctx context.Context, remoteID string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM treatments WHERE remote_id = ?`, remoteID).Scan(&n); err != nil {
		return false, fmt.Errorf("engine: treatment exists: %w", err)
	}

	return n > 0, nil
}

// SaveTreatments upserts a batch of treatments in a single transaction,
// the engine's only way of writing treatment state.
func (s *SQLiteStore) SaveTreatments(ctx context.Context, treatments []Treatment) error {
	if len(treatments) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("engine: begin tx: %w", err)
	}

	for _, t := range treatments {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO treatments (local_id, remote_id, kind, value, note, ts_ms, uploaded)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(local_id) DO UPDATE SET
			   remote_id = excluded.remote_id,
			   kind      = excluded.kind,
			   value     = excluded.value,
			   note      = excluded.note,
			   ts_ms     = excluded.ts_ms,
			   uploaded  = excluded.uploaded`,
			t.LocalID, t.RemoteID, string(t.Kind), t.Value, t.Note, t.Timestamp.UnixMilli(), boolToInt(t.Uploaded))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("engine: upsert treatment %s: %w", t.LocalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("engine: commit treatments: %w", err)
	}

	return nil
}

// DeleteTreatment removes a treatment by local id. Deletion is a
// UI-triggered operation; callers follow it with a sync trigger.
func (s *SQLiteStore) DeleteTreatment(ctx context.Context, localID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM treatments WHERE local_id = ?`, localID)
	if err != nil {
		return fmt.Errorf("engine: delete treatment: %w", err)
	}

	return nil
}

// PendingTreatmentCount returns the number of treatments not yet uploaded.
func (s *SQLiteStore) PendingTreatmentCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM treatments WHERE uploaded = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("engine: pending treatments: %w", err)
	}

	return n, nil
}

// --- sensors ---

// UpsertSensor persists a sensor session, marking it active and
// deactivating all others. Called by the ingest side on sensor start.
func (s *SQLiteStore) UpsertSensor(ctx context.Context, sensor Sensor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("engine: begin tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sensors SET active = 0`); err != nil {
		tx.Rollback()
		return fmt.Errorf("engine: deactivate sensors: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sensors (id, started_at_ms, active, uploaded_to_remote)
		 VALUES (?, ?, 1, ?)
		 ON CONFLICT(id) DO UPDATE SET active = 1, started_at_ms = excluded.started_at_ms`,
		sensor.ID, sensor.StartedAt.UnixMilli(), boolToInt(sensor.UploadedToRemote))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("engine: upsert sensor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("engine: commit sensor: %w", err)
	}

	return nil
}

// ActiveSensor returns the active sensor session, or nil if none.
func (s *SQLiteStore) ActiveSensor(ctx context.Context) (*Sensor, error) {
	var sensor Sensor

	var ms int64

	var uploaded int

	err := s.db.QueryRowContext(ctx,
		`SELECT id, started_at_ms, uploaded_to_remote FROM sensors WHERE active = 1`).
		Scan(&sensor.ID, &ms, &uploaded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("engine: query active sensor: %w", err)
	}

	sensor.StartedAt = time.UnixMilli(ms)
	sensor.UploadedToRemote = uploaded != 0

	return &sensor, nil
}

// MarkSensorUploaded sets the per-sensor upload guard flag.
func (s *SQLiteStore) MarkSensorUploaded(ctx context.Context, sensorID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sensors SET uploaded_to_remote = 1 WHERE id = ?`, sensorID)
	if err != nil {
		return fmt.Errorf("engine: mark sensor uploaded: %w", err)
	}

	return nil
}

// --- sync state ---

// LastUploadedReadingTime returns the readings watermark.
func (s *SQLiteStore) LastUploadedReadingTime(ctx context.Context) (time.Time, error) {
	return s.getTimeState(ctx, stateKeyReadingWatermark)
}

// SetLastUploadedReadingTime advances the readings watermark.
func (s *SQLiteStore) SetLastUploadedReadingTime(ctx context.Context, t time.Time) error {
	return s.setState(ctx, stateKeyReadingWatermark, strconv.FormatInt(t.UnixMilli(), 10))
}

// LastUploadedCalibrationTime returns the calibrations watermark.
func (s *SQLiteStore) LastUploadedCalibrationTime(ctx context.Context) (time.Time, error) {
	return s.getTimeState(ctx, stateKeyCalibrationWatermark)
}

// SetLastUploadedCalibrationTime advances the calibrations watermark.
func (s *SQLiteStore) SetLastUploadedCalibrationTime(ctx context.Context, t time.Time) error {
	return s.setState(ctx, stateKeyCalibrationWatermark, strconv.FormatInt(t.UnixMilli(), 10))
}

// LastConnectionStatusChange returns when the transmitter last
// disconnected or reconnected, as recorded by the ingest side.
func (s *SQLiteStore) LastConnectionStatusChange(ctx context.Context) (time.Time, error) {
	return s.getTimeState(ctx, stateKeyConnStatusChange)
}

// SetLastConnectionStatusChange records a transmitter dis/reconnect.
// Called by the ingest side.
func (s *SQLiteStore) SetLastConnectionStatusChange(ctx context.Context, t time.Time) error {
	return s.setState(ctx, stateKeyConnStatusChange, strconv.FormatInt(t.UnixMilli(), 10))
}

// TransmitterBattery returns the latest battery info recorded by the
// ingest side, or nil if none has been recorded yet.
func (s *SQLiteStore) TransmitterBattery(ctx context.Context) (*BatteryInfo, error) {
	return s.getBatteryState(ctx, stateKeyTransmitterBattery)
}

// SetTransmitterBattery records the latest battery info. Called by the
// ingest side.
func (s *SQLiteStore) SetTransmitterBattery(ctx context.Context, info *BatteryInfo) error {
	return s.setBatteryState(ctx, stateKeyTransmitterBattery, info)
}

// LastUploadedBattery returns the battery info of the last successful
// device status upload, or nil if none.
func (s *SQLiteStore) LastUploadedBattery(ctx context.Context) (*BatteryInfo, error) {
	return s.getBatteryState(ctx, stateKeyUploadedBattery)
}

// SetLastUploadedBattery records a successful device status upload.
func (s *SQLiteStore) SetLastUploadedBattery(ctx context.Context, info *BatteryInfo) error {
	return s.setBatteryState(ctx, stateKeyUploadedBattery, info)
}

// --- helpers ---

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTreatment(row rowScanner) (Treatment, error) {
	var t Treatment

	var kind string

	var ms int64

	var uploaded int

	if err := row.Scan(&t.LocalID, &t.RemoteID, &kind, &t.Value, &t.Note, &ms, &uploaded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}

		return t, fmt.Errorf("engine: scan treatment: %w", err)
	}

	t.Kind = TreatmentKind(kind)
	t.Timestamp = time.UnixMilli(ms)
	t.Uploaded = uploaded != 0

	return t, nil
}

func (s *SQLiteStore) getState(ctx context.Context, key string) (string, error) {
	var value string

	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("engine: get state %s: %w", key, err)
	}

	return value, nil
}

func (s *SQLiteStore) setState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("engine: set state %s: %w", key, err)
	}

	return nil
}

func (s *SQLiteStore) getTimeState(ctx context.Context, key string) (time.Time, error) {
	value, err := s.getState(ctx, key)
	if err != nil || value == "" {
		return time.Time{}, err
	}

	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("engine: corrupt state %s=%q: %w", key, value, err)
	}

	return time.UnixMilli(ms), nil
}

func (s *SQLiteStore) getBatteryState(ctx context.Context, key string) (*BatteryInfo, error) {
	value, err := s.getState(ctx, key)
	if err != nil || value == "" {
		return nil, err
	}

	var info BatteryInfo
	if err := json.Unmarshal([]byte(value), &info); err != nil {
		return nil, fmt.Errorf("engine: corrupt state %s: %w", key, err)
	}

	return &info, nil
}

func (s *SQLiteStore) setBatteryState(ctx context.Context, key string, info *BatteryInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("engine: encoding battery state: %w", err)
	}

	return s.setState(ctx, key, string(data))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
