package nightscout

import (
	"context"
	"log/slog"
	"net/http"
)

// UploadEntries POSTs a batch of entry records (readings or calibration
// records) in a single request. The caller is responsible for batching
// below the endpoint's payload cap.
func (c *Client) UploadEntries(ctx context.Context, entries []Entry) error {
	c.logger.Info("uploading entries", slog.Int("count", len(entries)))

	_, err := c.upload(ctx, http.MethodPost, entriesPath, entries, false)

	return err
}
