// ABOUTME: Typed errors returned by the gateway HTTP client
// ABOUTME: APIError carries the HTTP status and the gateway's error message

package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-success response from the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error (%d): %s", e.StatusCode, e.Message)
}

// IsAPIError reports whether err is an *APIError.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// IsUnauthorized reports whether err is a 401 from the gateway, meaning the
// token is missing, invalid or expired.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// ErrStreamEnded is delivered as an error event when the gateway closes a
// live stream that was not canceled.
var ErrStreamEnded = errors.New("live stream ended")
