package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoCredential is returned without touching the network when no
	// session is active (never logged in, or logged out).
	ErrNoCredential = errors.New("no credential: please login first")
	// ErrSessionEnded is returned when the credential could not be refreshed.
	// The session has been torn down by the time the caller sees it.
	ErrSessionEnded = errors.New("session ended: credential refresh failed")
	// ErrUnauthorized is returned when a request replayed after a successful
	// refresh is rejected again.
	ErrUnauthorized = errors.New("request unauthorized after credential refresh")
)

// HTTPError is a non-2xx response surfaced to the caller.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected HTTP status: %d %s (%s %s). Body: %s",
		e.StatusCode, http.StatusText(e.StatusCode), e.Method, e.URL, e.Body)
}

// IsStatus reports whether err is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == code
}
