// Package engine retrieves raw listing pages, either over plain HTTP or
// through a rendering browser.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Engine is implemented by every fetch strategy. Engines never retry.
type Engine interface {
	// Name returns the engine identifier (http, rod, chromedp).
	Name() string

	// Fetch retrieves the page content for req. Failures are returned as one
	// of the typed errors in this package.
	Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error)

	// Close releases any session held by the engine.
	Close() error
}

// FetchRequest contains everything an engine needs to fetch a page.
type FetchRequest struct {
	URL     string
	Timeout time.Duration
}

// FetchResult is the output of a successful fetch.
type FetchResult struct {
	Body        []byte
	StatusCode  int
	ContentType string
	FinalURL    string
	EngineName  string
}

// Kind selects a fetch strategy.
type Kind string

const (
	KindHTTP     Kind = "http"
	KindRendered Kind = "rendered"
)

var (
	// ErrUnknownEngine is returned by New for an unsupported kind or driver.
	ErrUnknownEngine = errors.New("unknown engine")
	// ErrSessionUnavailable is returned when a browser session cannot be
	// launched or attached.
	ErrSessionUnavailable = errors.New("browser session unavailable")
	// ErrClosed is returned by Fetch after Close.
	ErrClosed = errors.New("engine closed")
)

// Options configure engine construction.
type Options struct {
	UserAgent string
	Headers   map[string]string

	// Rendered engines.
	BrowserDriver string // rod or chromedp
	Headless      bool
	NoSandbox     bool
	BrowserBin    string
	ControlURL    string
	ReadySelector string
	ReadyTimeout  time.Duration
	SettleDelay   time.Duration
	Pages         int

	// HTTP engine.
	RespectRobotsTxt bool
	// Transport overrides the HTTP engine round tripper.
	Transport        http.RoundTripper
}

// New builds the engine for kind. Rendered engines acquire their browser
// session here; a session that cannot be established is returned as an error.
func New(ctx context.Context, kind Kind, opts Options) (Engine, error) {
	switch kind {
	case KindHTTP:
		return NewHTTPEngine(opts), nil
	case KindRendered:
		switch opts.BrowserDriver {
		case "", "rod":
			return NewRodEngine(opts)
		case "chromedp":
			return NewChromedpEngine(ctx, opts)
		default:
			return nil, fmt.Errorf("%w: browser driver %q", ErrUnknownEngine, opts.BrowserDriver)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, kind)
	}
}

// DefaultHeaders are sent with every plain HTTP request.
var DefaultHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9",
	"Cache-Control":             "no-cache",
	"Pragma":                    "no-cache",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-User":            "?1",
}

func requestTimeout(req *FetchRequest) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return 30 * time.Second
}
