package workflow

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/go-github/v68/github"
)

// APIError represents a non-2xx response from the workflow backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("workflow API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("workflow API error (status %d)", e.StatusCode)
}

// ConnectivityError represents a transport-level failure: the request
// never produced a usable response. Callers treat these as retryable
// within their poll budget.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity error during %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// MalformedError represents a response or artifact that was received but
// could not be decoded. These are never retried.
type MalformedError struct {
	What string
	Err  error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s: %v", e.What, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// IsNotFoundError reports whether err is a not-found response.
func IsNotFoundError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsConnectivityError reports whether err is a transport-level failure.
func IsConnectivityError(err error) bool {
	var connErr *ConnectivityError
	return errors.As(err, &connErr)
}

// IsMalformedError reports whether err is an undecodable response.
func IsMalformedError(err error) bool {
	var malErr *MalformedError
	return errors.As(err, &malErr)
}

// classify converts errors returned by the go-github SDK into the
// module's distinguishable error kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return &APIError{StatusCode: ghErr.Response.StatusCode, Message: ghErr.Message}
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &APIError{StatusCode: http.StatusForbidden, Message: "rate limit exceeded"}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &ConnectivityError{Op: op, Err: err}
	}

	return fmt.Errorf("%s: %w", op, err)
}
