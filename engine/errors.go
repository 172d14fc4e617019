package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/aluiziolira/go-scrape-products/models"
)

// ErrTimeout indicates no response arrived within the fetch timeout.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrNetwork indicates a connection level failure or a server side error.
type ErrNetwork struct {
	StatusCode int
	Err        error
}

func (e ErrNetwork) Error() string {
	return fmt.Errorf("network_error: %w", e.Err).Error()
}

func (e ErrNetwork) Unwrap() error {
	return e.Err
}

// ErrBlocked indicates the target denied or rate limited the request.
type ErrBlocked struct {
	StatusCode int
	Err        error
}

func (e ErrBlocked) Error() string {
	return fmt.Errorf("blocked: %w", e.Err).Error()
}

func (e ErrBlocked) Unwrap() error {
	return e.Err
}

// ErrNavigation indicates the browser failed to load the page or the
// readiness condition was never met.
type ErrNavigation struct {
	Err error
}

func (e ErrNavigation) Error() string {
	return fmt.Errorf("navigation_error: %w", e.Err).Error()
}

func (e ErrNavigation) Unwrap() error {
	return e.Err
}

// KindOf maps a fetch error to its outcome kind. Unrecognised errors are
// treated as network errors.
func KindOf(err error) models.ErrorKind {
	if err == nil {
		return ""
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return models.KindTimeout
	}
	var blocked ErrBlocked
	if errors.As(err, &blocked) {
		return models.KindBlocked
	}
	var nav ErrNavigation
	if errors.As(err, &nav) {
		return models.KindNavigationError
	}
	return models.KindNetworkError
}

// classifyError turns a transport error or a non-success status into one of
// the typed fetch errors. It returns nil for a clean 2xx/3xx response.
func classifyError(err error, statusCode int) error {
	if err == nil && statusCode < http.StatusBadRequest {
		return nil
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout{Err: err}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ErrTimeout{Err: err}
		}
		if strings.Contains(err.Error(), "net::ERR_TIMED_OUT") {
			return ErrTimeout{Err: err}
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return ErrNetwork{Err: err}
		}
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return ErrNetwork{Err: err}
		}
		if statusCode == 0 {
			return ErrNetwork{Err: err}
		}
	}

	wrapped := err
	if wrapped == nil {
		wrapped = fmt.Errorf("http status %d", statusCode)
	}
	switch {
	case statusCode == http.StatusRequestTimeout:
		return ErrNetwork{StatusCode: statusCode, Err: wrapped}
	case statusCode >= http.StatusInternalServerError:
		return ErrNetwork{StatusCode: statusCode, Err: wrapped}
	case statusCode >= http.StatusBadRequest:
		return ErrBlocked{StatusCode: statusCode, Err: wrapped}
	}
	return ErrNetwork{StatusCode: statusCode, Err: wrapped}
}
