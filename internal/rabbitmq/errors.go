package rabbitmq

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrPrincipalNotFound is returned when a lookup targets an unknown principal.
var ErrPrincipalNotFound = errors.New("principal not found")

// RequestError is returned for any non-2xx management API response.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("rabbitmq admin %s %s: unexpected status code: %d, body: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the same request could succeed.
func (e *RequestError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// IsNotFound checks if an error is a 404 from the management API.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrPrincipalNotFound) {
		return true
	}
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusNotFound
}

// IsPermanent reports whether err is a management API rejection that a retry
// cannot fix.
func IsPermanent(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && !reqErr.Temporary()
}
