package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel classes every backend failure unwraps to.
var (
	ErrUnauthorized = errors.New("backend: unauthorized")
	ErrForbidden    = errors.New("backend: forbidden")
	ErrNotFound     = errors.New("backend: not found")
	ErrValidation   = errors.New("backend: validation failed")
	ErrServer       = errors.New("backend: server error")
	ErrUnavailable  = errors.New("backend: unavailable")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
	Path    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend %s: %d %s", e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("backend %s: %d", e.Path, e.Status)
}

// Unwrap maps the status onto the sentinel taxonomy.
func (e *APIError) Unwrap() error {
	return classify(e.Status)
}

func classify(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusForbidden:
		return ErrForbidden
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusBadRequest, status == http.StatusConflict, status == http.StatusUnprocessableEntity:
		return ErrValidation
	default:
		return ErrServer
	}
}

// Message returns the text suitable for a user-visible notice, falling back to fallback.
func Message(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
