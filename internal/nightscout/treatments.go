package nightscout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

// UploadTreatments POSTs a batch of new treatments and returns the
// server-assigned records from the response, which carry the ids the
// caller matches back to its local entries. A duplicate-submission
// response yields (nil, nil): everything already exists server-side.
func (c *Client) UploadTreatments(ctx context.Context, records []TreatmentRecord) ([]TreatmentRecord, error) {
	c.logger.Info("uploading treatments", slog.Int("count", len(records)))

	body, err := c.upload(ctx, http.MethodPost, treatmentsPath, records, true)
	if err != nil {
		return nil, err
	}

	if body == nil {
		return nil, nil
	}

	var assigned []TreatmentRecord
	if err := json.Unmarshal(body, &assigned); err != nil {
		return nil, fmt.Errorf("%w: treatments upload response: %v", ErrDecode, err)
	}

	return assigned, nil
}

// UpdateTreatment PUTs a single treatment that already has a server id.
// The server does not guarantee atomic batch PUT semantics, so callers
// update one record per round trip.
func (c *Client) UpdateTreatment(ctx context.Context, record TreatmentRecord) error {
	c.logger.Info("updating treatment", slog.String("id", record.ID))

	_, err := c.upload(ctx, http.MethodPut, treatmentsPath, record, false)

	return err
}

// LatestTreatments GETs the most recent count treatments from the server.
func (c *Client) LatestTreatments(ctx context.Context, count int) ([]TreatmentRecord, error) {
	query := url.Values{"count": []string{strconv.Itoa(count)}}

	body, err := c.get(ctx, treatmentsPath, query)
	if err != nil {
		return nil, err
	}

	var records []TreatmentRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("%w: treatments download response: %v", ErrDecode, err)
	}

	c.logger.Info("downloaded treatments", slog.Int("count", len(records)))

	return records, nil
}
