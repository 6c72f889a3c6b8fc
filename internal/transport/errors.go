package transport

import (
	"errors"
	"net"
	"net/http"

	"github.com/loomlabs/loom/pkg/models"
)

// HTTPError is a normalized transport-level failure. Vendor response bodies
// are reduced to a one-line message; the status code drives classification.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
	RetryAfter string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return e.Status + ": " + e.Body
	}
	return e.Status
}

// Category maps the status code onto the core taxonomy.
func (e *HTTPError) Category() models.ErrorCategory {
	return CategoryForStatus(e.StatusCode)
}

// CategoryForStatus maps an HTTP status code to an error category.
func CategoryForStatus(code int) models.ErrorCategory {
	switch {
	case code == http.StatusUnauthorized:
		return models.ErrUnauthenticated
	case code == http.StatusForbidden:
		return models.ErrPermissionDenied
	case code == http.StatusNotFound:
		return models.ErrNotFound
	case code == http.StatusTooManyRequests:
		return models.ErrRateLimit
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return models.ErrTimeout
	case code >= 500:
		return models.ErrNetwork
	case code >= 400:
		return models.ErrInvalidInput
	default:
		return models.ErrUnknown
	}
}

// RetryableStatus reports whether a status code should be retried: 429 and
// the transient 5xx family. Other 4xx are never retried.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// RetryableError reports whether an error is a retryable transport failure:
// connection errors, DNS failures, and retryable HTTP statuses.
func RetryableError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return RetryableStatus(httpErr.StatusCode)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
