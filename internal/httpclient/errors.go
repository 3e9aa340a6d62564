package httpclient

import (
	"errors"
	"fmt"
	"net/http"
)

// NetworkError is a transport-level failure: DNS, connect, timeout, or a
// truncated body.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UpstreamError is a response with status >= 400.
type UpstreamError struct {
	StatusCode int
	URL        string
	Body       string
	Header     http.Header
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s returned HTTP %d", e.URL, e.StatusCode)
}

func (e *UpstreamError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func (e *UpstreamError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsUnavailable reports whether err is a network failure or a 5xx response.
func IsUnavailable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var upErr *UpstreamError
	return errors.As(err, &upErr) && upErr.StatusCode >= 500
}
