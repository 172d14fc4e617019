package engine

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-products/models"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   models.ErrorKind
	}{
		{name: "clean response", err: nil, statusCode: http.StatusOK, expected: ""},
		{name: "redirect", err: nil, statusCode: http.StatusFound, expected: ""},
		{name: "context timeout", err: context.DeadlineExceeded, expected: models.KindTimeout},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, expected: models.KindTimeout},
		{name: "dns failure", err: &net.DNSError{Err: "no such host", Name: "site.test"}, expected: models.KindNetworkError},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, expected: models.KindNetworkError},
		{name: "unauthorized", statusCode: http.StatusUnauthorized, expected: models.KindBlocked},
		{name: "forbidden", statusCode: http.StatusForbidden, expected: models.KindBlocked},
		{name: "rate limited", statusCode: http.StatusTooManyRequests, expected: models.KindBlocked},
		{name: "not found", statusCode: http.StatusNotFound, expected: models.KindBlocked},
		{name: "request timeout", statusCode: http.StatusRequestTimeout, expected: models.KindNetworkError},
		{name: "server error", statusCode: http.StatusServiceUnavailable, expected: models.KindNetworkError},
		{name: "other", err: errors.New("some other error"), expected: models.KindNetworkError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestClassifyBrowserError(t *testing.T) {
	live := context.Background()
	expired, cancel := context.WithTimeout(context.Background(), -time.Second)
	defer cancel()

	tests := []struct {
		name     string
		ctx      context.Context
		err      error
		expected models.ErrorKind
	}{
		{name: "dns", ctx: live, err: errors.New("navigation failed: net::ERR_NAME_NOT_RESOLVED"), expected: models.KindNetworkError},
		{name: "refused", ctx: live, err: errors.New("page load error net::ERR_CONNECTION_REFUSED"), expected: models.KindNetworkError},
		{name: "timed out", ctx: live, err: errors.New("navigation failed: net::ERR_TIMED_OUT"), expected: models.KindTimeout},
		{name: "deadline", ctx: expired, err: errors.New("context deadline exceeded"), expected: models.KindTimeout},
		{name: "crashed page", ctx: live, err: errors.New("target crashed"), expected: models.KindNavigationError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(classifyBrowserError(tt.ctx, tt.err)); got != tt.expected {
				t.Fatalf("classifyBrowserError(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestReadinessErrorIsNavigation(t *testing.T) {
	err := readinessError(`[data-test="product-item"]`, time.Second, context.DeadlineExceeded)
	if KindOf(err) != models.KindNavigationError {
		t.Fatalf("kind = %q", KindOf(err))
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped cause")
	}
}

func TestSettleHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := settle(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("settle did not return promptly")
	}
	if err := settle(context.Background(), 0); err != nil {
		t.Fatalf("zero settle should return nil, got %v", err)
	}
}
