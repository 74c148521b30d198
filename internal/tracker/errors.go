package tracker

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Tracker errors.
var (
	// ErrAuthFailed is returned when the tracker rejects the credentials.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNotFound is returned when the issue or project does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidIssueID is returned when an issue identifier has the wrong shape
	// for the tracker.
	ErrInvalidIssueID = errors.New("invalid issue id")
)

// APIError is a failed tracker call with its HTTP status. It satisfies the
// retry package's StatusError and WaitHinter interfaces.
type APIError struct {
	Op     string
	Status int
	// Wait is the server's Retry-After hint, zero when absent.
	Wait time.Duration
	Err  error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s (status %d): %v", e.Op, e.Status, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.Status }

// RetryAfter returns the server's back-off hint.
func (e *APIError) RetryAfter() time.Duration { return e.Wait }

// Is maps 401/403 to ErrAuthFailed and 404 to ErrNotFound.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAuthFailed:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// WrapResponse wraps err with the status and Retry-After of resp. Without a
// response (transport failure) err is wrapped with op only.
func WrapResponse(op string, resp *http.Response, err error) error {
	if err == nil {
		return nil
	}
	if resp == nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &APIError{
		Op:     op,
		Status: resp.StatusCode,
		Wait:   ParseRetryAfter(resp.Header.Get("Retry-After")),
		Err:    err,
	}
}

// ParseRetryAfter reads a Retry-After header value given either in seconds
// or as an HTTP date.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
