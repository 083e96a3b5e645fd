package nightscout

import (
	"context"
	"net/http"
)

// UploadDeviceStatus POSTs a transmitter/uploader battery snapshot.
func (c *Client) UploadDeviceStatus(ctx context.Context, status DeviceStatus) error {
	_, err := c.upload(ctx, http.MethodPost, deviceStatusPath, status, false)

	return err
}
