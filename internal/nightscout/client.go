package nightscout

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // Nightscout's api-secret header is defined as SHA-1 of the shared secret
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Resource paths of the Nightscout v1 API.
const (
	entriesPath      = "/api/v1/entries"
	treatmentsPath   = "/api/v1/treatments"
	deviceStatusPath = "/api/v1/devicestatus"
	authTestPath     = "/api/v1/experiments/test"
)

// Client is an HTTP client for a Nightscout instance. It builds endpoint
// URLs from the configured base, injects credentials, and classifies
// responses. Timeouts are the injected http.Client's responsibility.
type Client struct {
	baseURL    string
	port       int    // 0 = keep the URL's port
	secretHash string // hex SHA-1 of the shared secret, empty if none
	token      string // appended as a query parameter, empty if none
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Nightscout API client. baseURL is the site root,
// e.g. "https://example.herokuapp.com". apiSecret is hashed once here so
// the plaintext secret is not carried around per request.
func NewClient(baseURL string, port int, apiSecret, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	var secretHash string
	if apiSecret != "" {
		sum := sha1.Sum([]byte(apiSecret)) //nolint:gosec // see import comment
		secretHash = hex.EncodeToString(sum[:])
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		port:       port,
		secretHash: secretHash,
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}
}

// buildURL constructs an endpoint URL from the base, the resource path,
// the optional port override, the optional token, and extra query values.
func (c *Client) buildURL(path string, query url.Values) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("nightscout: invalid base URL %q: %w", c.baseURL, err)
	}

	if c.port != 0 {
		u.Host = fmt.Sprintf("%s:%d", u.Hostname(), c.port)
	}

	u.Path = strings.TrimRight(u.Path, "/") + path

	if query == nil {
		query = url.Values{}
	}

	if c.token != "" {
		query.Set("token", c.token)
	}

	u.RawQuery = query.Encode()

	return u.String(), nil
}

// newRequest builds a request with JSON content negotiation and the
// api-secret header when a shared secret is configured.
func (c *Client) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("nightscout: creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.secretHash != "" {
		req.Header.Set("api-secret", c.secretHash)
	}

	return req, nil
}

// upload POSTs (or PUTs) a JSON payload and returns the response body on
// success. acceptDuplicate enables the duplicate-submission idiom: an HTTP
// 500 whose body carries error code 66 means the record already exists and
// is treated as a successful no-op with a nil body. The idiom is scoped to
// treatment uploads, the only path observed to produce it.
func (c *Client) upload(ctx context.Context, method, path string, payload any, acceptDuplicate bool) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("nightscout: encoding payload: %w", err)
	}

	rawURL, err := c.buildURL(path, nil)
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, method, rawURL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	c.logger.Debug("uploading",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("bytes", len(data)),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nightscout: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("nightscout: reading response: %w", readErr)
	}

	if sentinel := classifyStatus(resp.StatusCode); sentinel != nil {
		if acceptDuplicate && resp.StatusCode == http.StatusInternalServerError && isDuplicateSubmission(body) {
			c.logger.Info("duplicate submission reported by server, treating as uploaded",
				slog.String("path", path))

			return nil, nil
		}

		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body), Err: sentinel}
	}

	c.logger.Debug("upload succeeded",
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
	)

	return body, nil
}

// get issues a GET request and returns the response body on success.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	rawURL, err := c.buildURL(path, query)
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nightscout: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("nightscout: reading response: %w", readErr)
	}

	if sentinel := classifyStatus(resp.StatusCode); sentinel != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body), Err: sentinel}
	}

	return body, nil
}

// isDuplicateSubmission reports whether an HTTP 500 body carries the
// duplicate-submission error code. A body that fails to decode is not a
// duplicate; the caller falls through to the failure path.
func isDuplicateSubmission(body []byte) bool {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return false
	}

	return eb.Description.Code == duplicateSubmissionCode
}
