// Package nightscout provides an HTTP client for the Nightscout REST API
// with request construction, credential injection, and outcome
// classification. It does not retry: failed batches are naturally retried
// on the next sync trigger because entities carry their own upload state.
package nightscout

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for outcome classification.
// Use errors.Is(err, nightscout.ErrUnauthorized) to check.
var (
	ErrUnauthorized = errors.New("nightscout: unauthorized")
	ErrForbidden    = errors.New("nightscout: forbidden")
	ErrNotFound     = errors.New("nightscout: not found")
	ErrServer       = errors.New("nightscout: server error")
	ErrDecode       = errors.New("nightscout: malformed response")
)

// APIError wraps a sentinel error with the HTTP status code and response
// body for debugging.
type APIError struct {
	StatusCode int
	Body       string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("nightscout: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch {
	case code >= http.StatusOK && code < http.StatusMultipleChoices:
		return nil
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusNotFound:
		return ErrNotFound
	default:
		return ErrServer
	}
}

// duplicateSubmissionCode is Nightscout's error code for a record that
// already exists server-side. The server reports it inside an HTTP 500
// body; re-uploading an already-known record is a no-op, not a failure.
const duplicateSubmissionCode = 66

// errorBody is the structured error payload Nightscout returns with
// HTTP 500 responses.
type errorBody struct {
	Description struct {
		Code int `json:"code"`
	} `json:"description"`
}
