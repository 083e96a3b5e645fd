package nightscout

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// VerifyCredentials checks the configured credentials against the
// authentication test endpoint. When no shared secret is configured the
// token is sent in the api-secret header instead, which the endpoint
// accepts for token-based setups. Any non-2xx status is an error carrying
// the server's explanation.
func (c *Client) VerifyCredentials(ctx context.Context) error {
	rawURL, err := c.buildURL(authTestPath, nil)
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}

	if c.secretHash == "" && c.token != "" {
		req.Header.Set("api-secret", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("nightscout: credential test: %w", err)
	}
	defer resp.Body.Close()

	if sentinel := classifyStatus(resp.StatusCode); sentinel != nil {
		body, _ := io.ReadAll(resp.Body)

		return &APIError{StatusCode: resp.StatusCode, Body: string(body), Err: sentinel}
	}

	return nil
}
