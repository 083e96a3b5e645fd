package engine

import (
	"time"

	"github.com/nightsync/nightsync/internal/nightscout"
)

// Timestamp tolerance for content matching. created_at round-trips through
// millisecond-precision JSON timestamps, so equality is checked at that
// granularity.
const matchTolerance = time.Millisecond

// matchByID reports whether a downloaded record refers to a known local
// entry: ids equal and both non-empty.
func matchByID(t *Treatment, r *nightscout.TreatmentRecord) bool {
	return t.RemoteID != "" && r.ID != "" && t.RemoteID == r.ID
}

// matchByContent reports whether a downloaded record is the server's copy
// of a local entry that has no id yet: kind, value and timestamp agree
// within tolerance. Used to recover the server-assigned id for an entry
// uploaded in a run that was interrupted before the response was processed.
func matchByContent(t *Treatment, r *nightscout.TreatmentRecord) bool {
	if eventTypeFor(t.Kind) != r.EventType {
		return false
	}

	if recordValue(r) != t.Value {
		return false
	}

	diff := t.Timestamp.Sub(r.CreatedAt.Time)
	if diff < 0 {
		diff = -diff
	}

	return diff <= matchTolerance
}

// applyServerEdit overwrites local fields from the server record and
// reports whether anything changed. Only called for confirmed-uploaded
// entries, which treat the server as source of truth.
func applyServerEdit(t *Treatment, r *nightscout.TreatmentRecord) bool {
	changed := false

	if v := recordValue(r); v != t.Value {
		t.Value = v
		changed = true
	}

	if kind, ok := kindForEventType(r.EventType); ok && kind != t.Kind {
		t.Kind = kind
		changed = true
	}

	if !r.CreatedAt.Time.IsZero() && !r.CreatedAt.Time.Equal(t.Timestamp) {
		t.Timestamp = r.CreatedAt.Time
		changed = true
	}

	return changed
}

// adoptIDs runs the content-matching rule for every pending entry without
// an id against the downloaded records, adopting the server id on the
// first match. Returns the number of entries matched. Ties are not
// re-resolved: a record claimed by one entry stays claimed.
func adoptIDs(pending []Treatment, records []nightscout.TreatmentRecord) int {
	matched := 0
	claimed := make(map[string]bool, len(records))

	for i := range pending {
		t := &pending[i]
		if t.Uploaded || t.RemoteID != "" {
			continue
		}

		for j := range records {
			r := &records[j]
			if r.ID == "" || claimed[r.ID] {
				continue
			}

			if matchByContent(t, r) {
				t.RemoteID = r.ID
				t.Uploaded = true
				claimed[r.ID] = true
				matched++

				break
			}
		}
	}

	return matched
}

// --- kind <-> wire eventType mapping ---

var kindToEventType = map[TreatmentKind]string{
	KindInsulin:     nightscout.EventTypeBolus,
	KindCarbs:       nightscout.EventTypeCarbs,
	KindExercise:    nightscout.EventTypeExercise,
	KindNote:        nightscout.EventTypeNote,
	KindSensorStart: nightscout.EventTypeSensorStart,
}

func eventTypeFor(kind TreatmentKind) string {
	if et, ok := kindToEventType[kind]; ok {
		return et
	}

	return nightscout.EventTypeNote
}

func kindForEventType(eventType string) (TreatmentKind, bool) {
	for kind, et := range kindToEventType {
		if et == eventType {
			return kind, true
		}
	}

	return "", false
}

// treatmentToRecord maps a local treatment to its wire representation.
// The kind decides which value field carries the number.
func treatmentToRecord(t *Treatment, enteredBy string) nightscout.TreatmentRecord {
	r := nightscout.TreatmentRecord{
		ID:        t.RemoteID,
		EventType: eventTypeFor(t.Kind),
		Notes:     t.Note,
		CreatedAt: nightscout.NewTime(t.Timestamp),
		EnteredBy: enteredBy,
	}

	v := t.Value

	switch t.Kind {
	case KindInsulin:
		r.Insulin = &v
	case KindCarbs:
		r.Carbs = &v
	case KindExercise:
		r.Duration = &v
	}

	return r
}

// recordValue extracts the kind-dependent numeric value from a record.
func recordValue(r *nightscout.TreatmentRecord) float64 {
	switch {
	case r.Insulin != nil:
		return *r.Insulin
	case r.Carbs != nil:
		return *r.Carbs
	case r.Duration != nil:
		return *r.Duration
	default:
		return 0
	}
}

// recordToTreatment materializes a local treatment from a downloaded
// record. The new entry is born confirmed: uploaded with the server id.
func recordToTreatment(r *nightscout.TreatmentRecord, localID string) Treatment {
	kind, ok := kindForEventType(r.EventType)
	if !ok {
		kind = KindNote
	}

	return Treatment{
		LocalID:   localID,
		RemoteID:  r.ID,
		Kind:      kind,
		Value:     recordValue(r),
		Note:      r.Notes,
		Timestamp: r.CreatedAt.Time,
		Uploaded:  true,
	}
}
