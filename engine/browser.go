package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// navigationStatusJS reads the main document status without network
// listeners. Browsers that do not expose responseStatus report 0.
const navigationStatusJS = `() => {
	try {
		const entries = performance.getEntriesByType("navigation");
		if (entries.length > 0) return entries[0].responseStatus || 0;
	} catch (e) {}
	return 0;
}`

// classifyBrowserError maps a failed navigation or readiness wait. ctx is the
// fetch context; when it has expired the failure is a timeout regardless of
// what the browser reported.
func classifyBrowserError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	if ctx.Err() != nil {
		return ErrNetwork{Err: err}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "net::ERR_TIMED_OUT"), strings.Contains(msg, "net::ERR_CONNECTION_TIMED_OUT"):
		return ErrTimeout{Err: err}
	case strings.Contains(msg, "net::ERR_"):
		return ErrNetwork{Err: err}
	}
	return ErrNavigation{Err: err}
}

// readinessError reports a ready selector that never appeared.
func readinessError(selector string, wait time.Duration, err error) error {
	return ErrNavigation{Err: fmt.Errorf("ready selector %q not found within %s: %w", selector, wait, err)}
}

// settle blocks for d or until ctx is done.
func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func readyTimeout(opts Options, req *FetchRequest) time.Duration {
	if opts.ReadyTimeout > 0 {
		return opts.ReadyTimeout
	}
	return requestTimeout(req)
}
