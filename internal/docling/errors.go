package docling

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/btwld/docling-sdk-sub000/internal/domain"
)

// APIError represents a non-2xx response from the conversion service
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("docling API error: %s (status %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Temporary reports whether a retry may succeed: server errors and throttling
func (e *APIError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// Is lets temporary API errors count against the transport retry budget
func (e *APIError) Is(target error) bool {
	return target == domain.ErrTransport && e.Temporary()
}

// IsPermanent reports whether err is a client-side API error that will not change on retry
func IsPermanent(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.Temporary()
	}
	return false
}

// IsNotFound reports whether err is a 404 from the service
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
