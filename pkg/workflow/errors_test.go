package workflow

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/google/go-github/v68/github"
)

func TestErrorPredicates(t *testing.T) {
	notFound := &APIError{StatusCode: http.StatusNotFound, Message: "no such variable"}
	forbidden := &APIError{StatusCode: http.StatusForbidden}
	conn := &ConnectivityError{Op: "list workflow runs", Err: errors.New("dial tcp: no route to host")}
	malformed := &MalformedError{What: "artifact archive", Err: errors.New("not a zip")}

	if !IsNotFoundError(notFound) {
		t.Error("IsNotFoundError(404) = false")
	}
	if IsNotFoundError(forbidden) {
		t.Error("IsNotFoundError(403) = true")
	}
	if !IsConnectivityError(conn) {
		t.Error("IsConnectivityError = false")
	}
	if !IsMalformedError(malformed) {
		t.Error("IsMalformedError = false")
	}

	// Predicates unwrap.
	wrapped := fmt.Errorf("round 1: %w", conn)
	if !IsConnectivityError(wrapped) {
		t.Error("IsConnectivityError must see through wrapping")
	}
	if IsConnectivityError(nil) || IsNotFoundError(nil) || IsMalformedError(nil) {
		t.Error("predicates must be false for nil")
	}
}

func TestClassify(t *testing.T) {
	if classify("op", nil) != nil {
		t.Error("classify(nil) must be nil")
	}

	ghErr := &github.ErrorResponse{
		Response: &http.Response{StatusCode: http.StatusUnprocessableEntity},
		Message:  "workflow does not have workflow_dispatch trigger",
	}
	err := classify("dispatch workflow", ghErr)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("classify(ErrorResponse) = %v, want APIError 422", err)
	}

	rateErr := &github.RateLimitError{}
	err = classify("list workflow runs", rateErr)
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("classify(RateLimitError) = %v, want APIError 403", err)
	}

	urlErr := &url.Error{Op: "Get", URL: "https://api.github.com", Err: errors.New("connection refused")}
	err = classify("list workflow runs", urlErr)
	if !IsConnectivityError(err) {
		t.Errorf("classify(url.Error) = %v, want connectivity error", err)
	}

	plain := errors.New("context canceled")
	err = classify("list workflow runs", plain)
	if IsConnectivityError(err) || IsNotFoundError(err) || IsMalformedError(err) {
		t.Errorf("classify(plain) = %v, want plain wrapped error", err)
	}
	if !errors.Is(err, plain) {
		t.Error("classify must preserve the underlying error")
	}
}
