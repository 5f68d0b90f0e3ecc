package youtrack

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRetriesExhausted is wrapped by the error returned once the attempt
// budget is spent on non-rate-limit failures.
var ErrRetriesExhausted = errors.New("retries exhausted")

// APIError is a non-2xx response from the YouTrack REST API.
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("youtrack %s: %d %s", e.Endpoint, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("youtrack %s: %d %s: %s", e.Endpoint, e.StatusCode, http.StatusText(e.StatusCode), body)
}

// IsServerError reports whether the status is a 5xx.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500
}

// IsNotFound reports whether err wraps a 404 APIError.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
