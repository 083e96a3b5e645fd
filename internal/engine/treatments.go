package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/nightsync/nightsync/internal/nightscout"
)

// syncTreatments runs the two-way treatment pipeline over the most recent
// local entries:
//
//  1. batch-upload entries that have never been uploaded
//  2. upload local edits of known entries one by one, confirming each
//  3. download the server's latest entries
//  4. reconcile: recover ids the upload response did not deliver, pull
//     server-side edits into confirmed entries, and materialize entries
//     created on other devices
//
// A stage failure is logged and the pipeline moves on; later stages work
// with whatever state the earlier ones reached. The outcome is failed if
// any stage failed, otherwise successful with LocalChanges set when the
// download produced new or changed local entries.
func (c *Coordinator) syncTreatments(ctx context.Context) Outcome {
	local, err := c.store.LatestTreatments(ctx, c.cfg.MaxTreatmentsPerSync)
	if err != nil {
		c.logger.Error("load local treatments", "error", err)
		return Failed()
	}

	failed := false

	if err := c.uploadNewTreatments(ctx, local); err != nil {
		c.logger.Error("upload new treatments", "error", err)
		failed = true
	}

	if err := c.uploadTreatmentEdits(ctx, local); err != nil {
		c.logger.Error("upload treatment edits", "error", err)
		failed = true
	}

	records, err := c.gateway.LatestTreatments(ctx, c.cfg.MaxTreatmentsPerSync)
	if err != nil {
		c.logger.Error("download treatments", "error", err)
		return Failed()
	}

	localChanges, err := c.reconcileTreatments(ctx, local, records)
	if err != nil {
		c.logger.Error("reconcile treatments", "error", err)
		failed = true
	}

	if failed {
		return Failed()
	}

	return Success(localChanges)
}

// uploadNewTreatments batch-posts entries without a server id. The
// response carries the created records with their ids; content matching
// pairs them back to the uploaded entries. A duplicate-submission reply
// means the server already has them, in which case the download stage
// recovers the ids instead.
func (c *Coordinator) uploadNewTreatments(ctx context.Context, local []Treatment) error {
	var pending []*Treatment

	for i := range local {
		if local[i].RemoteID == "" && local[i].Kind != KindSensorStart {
			pending = append(pending, &local[i])
		}
	}

	if len(pending) == 0 {
		return nil
	}

	records := make([]nightscout.TreatmentRecord, 0, len(pending))
	for _, t := range pending {
		r := treatmentToRecord(t, c.cfg.DeviceName)
		r.ID = ""
		records = append(records, r)
	}

	created, err := c.gateway.UploadTreatments(ctx, records)
	if err != nil {
		return err
	}

	if created == nil {
		c.logger.Info("treatments already on server", "count", len(pending))
		return nil
	}

	batch := make([]Treatment, len(pending))
	for i, t := range pending {
		batch[i] = *t
	}

	matched := adoptIDs(batch, created)
	for i, t := range pending {
		*t = batch[i]
	}

	c.logger.Info("new treatments uploaded", "count", len(pending), "ids_assigned", matched)

	if matched == 0 {
		return nil
	}

	confirmed := make([]Treatment, 0, matched)
	for _, t := range pending {
		if t.Uploaded {
			confirmed = append(confirmed, *t)
		}
	}

	return c.store.SaveTreatments(ctx, confirmed)
}

// uploadTreatmentEdits puts locally edited entries one at a time, each
// confirmed in the store before the next goes out. A failed put is local
// to its entry: the remaining edits still go out, and the failed one
// stays queued for the next pass.
func (c *Coordinator) uploadTreatmentEdits(ctx context.Context, local []Treatment) error {
	var errs []error

	for i := range local {
		t := &local[i]
		if t.RemoteID == "" || t.Uploaded {
			continue
		}

		if err := c.gateway.UpdateTreatment(ctx, treatmentToRecord(t, c.cfg.DeviceName)); err != nil {
			c.logger.Error("treatment edit upload failed", "remote_id", t.RemoteID, "error", err)
			errs = append(errs, err)

			continue
		}

		t.Uploaded = true
		if err := c.store.SaveTreatments(ctx, []Treatment{*t}); err != nil {
			errs = append(errs, err)

			continue
		}

		c.logger.Info("treatment edit uploaded", "local_id", t.LocalID, "remote_id", t.RemoteID)
	}

	return errors.Join(errs...)
}

// reconcileTreatments folds the downloaded records into local state and
// reports whether anything local changed. Three cases per record: it
// recovers the id of an upload whose response was lost, it carries a
// server-side edit into a confirmed local entry, or it materializes an
// entry created on another device.
func (c *Coordinator) reconcileTreatments(ctx context.Context, local []Treatment, records []nightscout.TreatmentRecord) (bool, error) {
	hadNoID := make(map[string]bool, len(local))
	for i := range local {
		if local[i].RemoteID == "" {
			hadNoID[local[i].LocalID] = true
		}
	}

	adopted := adoptIDs(local, records)

	var dirty []Treatment

	byRemoteID := make(map[string]*Treatment, len(local))
	for i := range local {
		t := &local[i]
		if t.RemoteID == "" {
			continue
		}

		byRemoteID[t.RemoteID] = t

		if hadNoID[t.LocalID] {
			dirty = append(dirty, *t)
		}
	}

	edited := 0
	created := 0

	for i := range records {
		r := &records[i]
		if r.ID == "" || r.EventType == nightscout.EventTypeSensorStart {
			continue
		}

		if t, known := byRemoteID[r.ID]; known {
			if t.Uploaded && !hadNoID[t.LocalID] && applyServerEdit(t, r) {
				dirty = append(dirty, *t)
				edited++
			}

			continue
		}

		// Outside the working set, or genuinely new. The store check
		// keeps older entries from being duplicated.
		exists, err := c.store.TreatmentExists(ctx, r.ID)
		if err != nil {
			return false, err
		}

		if exists {
			continue
		}

		dirty = append(dirty, recordToTreatment(r, uuid.NewString()))
		created++
	}

	if len(dirty) > 0 {
		if err := c.store.SaveTreatments(ctx, dirty); err != nil {
			return false, err
		}
	}

	c.logger.Info("treatments reconciled",
		"ids_recovered", adopted, "server_edits", edited, "materialized", created)

	return adopted > 0 || edited > 0 || created > 0, nil
}
