package nightscout

import "time"

// Entry record type discriminators on the entries endpoint.
const (
	EntryTypeSGV = "sgv" // sensor glucose value
	EntryTypeCal = "cal" // calibration slope/intercept record
	EntryTypeMBG = "mbg" // manual (meter) blood glucose record
)

// Entry is one record on the /api/v1/entries endpoint. A glucose reading
// maps to a single sgv entry; a calibration expands to a cal and an mbg
// entry sharing the same timestamp.
type Entry struct {
	Device     string  `json:"device,omitempty"`
	Date       int64   `json:"date"`       // Unix milliseconds
	DateString string  `json:"dateString"` // ISO 8601, duplicates Date
	Type       string  `json:"type"`
	SGV        int     `json:"sgv,omitempty"`
	Direction  string  `json:"direction,omitempty"`
	Slope      float64 `json:"slope,omitempty"`
	Intercept  float64 `json:"intercept,omitempty"`
	Scale      float64 `json:"scale,omitempty"`
	MBG        float64 `json:"mbg,omitempty"`
}

// Treatment event types used on the treatments endpoint.
const (
	EventTypeBolus       = "Correction Bolus"
	EventTypeCarbs       = "Carb Correction"
	EventTypeExercise    = "Exercise"
	EventTypeNote        = "Note"
	EventTypeSensorStart = "Sensor Start"
)

// TreatmentRecord is one record on the /api/v1/treatments endpoint, both
// as uploaded and as returned by the server. The server assigns ID on
// creation; upload payloads leave it empty.
type TreatmentRecord struct {
	ID        string   `json:"_id,omitempty"`
	EventType string   `json:"eventType"`
	Insulin   *float64 `json:"insulin,omitempty"`  // units
	Carbs     *float64 `json:"carbs,omitempty"`    // grams
	Duration  *float64 `json:"duration,omitempty"` // minutes, exercise
	Notes     string   `json:"notes,omitempty"`
	CreatedAt Time     `json:"created_at"`
	EnteredBy string   `json:"enteredBy,omitempty"`
}

// DeviceStatus is the payload of the /api/v1/devicestatus endpoint. The
// uploader object's keys vary by transmitter type, so it is a free-form
// map built by the status uploader.
type DeviceStatus struct {
	Uploader map[string]any `json:"uploader"`
}

// Time marshals as an ISO 8601 string with millisecond precision, the
// format Nightscout stores in created_at. It tolerates second-precision
// and nanosecond-precision strings on decode.
type Time struct {
	time.Time
}

// TimeLayout is RFC 3339 with exactly three fractional digits, the
// format Nightscout uses for dateString and created_at.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// NewTime wraps a time.Time, truncating to millisecond precision so a
// value survives an upload/download round trip bit-identically.
func NewTime(t time.Time) Time {
	return Time{t.Truncate(time.Millisecond)}
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(TimeLayout) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}

	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}

	t.Time = parsed

	return nil
}
