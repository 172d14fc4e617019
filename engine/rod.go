package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodEngine renders pages in a Chromium session driven by rod. The browser
// is launched (or attached) once and pages are reused through a pool.
type RodEngine struct {
	opts     Options
	launcher *launcher.Launcher
	browser  *rod.Browser
	pagePool rod.Pool[rod.Page]

	mu     sync.Mutex
	closed bool
}

// NewRodEngine acquires the browser session.
func NewRodEngine(opts Options) (*RodEngine, error) {
	controlURL := opts.ControlURL
	var l *launcher.Launcher
	if controlURL == "" {
		l = launcher.New().
			Headless(opts.Headless).
			NoSandbox(opts.NoSandbox)
		if opts.BrowserBin != "" {
			l = l.Bin(opts.BrowserBin)
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("%w: launch browser: %v", ErrSessionUnavailable, err)
		}
		controlURL = u
		slog.Info("browser launched", slog.String("control_url", controlURL))
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if l != nil {
			l.Kill()
			l.Cleanup()
		}
		return nil, fmt.Errorf("%w: connect browser: %v", ErrSessionUnavailable, err)
	}

	pages := opts.Pages
	if pages <= 0 {
		pages = 1
	}

	return &RodEngine{
		opts:     opts,
		launcher: l,
		browser:  browser,
		pagePool: rod.NewPagePool(pages),
	}, nil
}

func (e *RodEngine) Name() string { return "rod" }

// Fetch navigates a pooled page to req.URL and returns the rendered document.
func (e *RodEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout(req))
	defer cancel()

	page, err := e.pagePool.Get(func() (*rod.Page, error) {
		return e.browser.Page(proto.TargetCreateTarget{})
	})
	if err != nil {
		return nil, ErrNavigation{Err: fmt.Errorf("acquire page: %w", err)}
	}

	healthy := true
	defer func() {
		if healthy {
			if navErr := page.Navigate("about:blank"); navErr == nil {
				e.pagePool.Put(page)
				return
			}
		}
		_ = page.Close()
		e.pagePool.Put(nil)
	}()

	p := page.Context(ctx)
	if e.opts.UserAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: e.opts.UserAgent}); err != nil {
			healthy = false
			return nil, classifyBrowserError(ctx, err)
		}
	}

	if err := p.Navigate(req.URL); err != nil {
		return nil, classifyBrowserError(ctx, err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, classifyBrowserError(ctx, err)
	}

	// An error page is classified by its status before readiness is awaited,
	// since it will never show the listing.
	status := 0
	if res, err := p.Eval(navigationStatusJS); err == nil {
		status = res.Value.Int()
	}
	if classified := classifyError(nil, status); classified != nil {
		return nil, classified
	}

	if err := e.waitReady(ctx, p, req); err != nil {
		return nil, err
	}

	rawHTML, err := p.HTML()
	if err != nil {
		return nil, classifyBrowserError(ctx, err)
	}

	finalURL := req.URL
	if info, err := p.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}

	return &FetchResult{
		Body:        []byte(rawHTML),
		StatusCode:  statusOrOK(status),
		ContentType: "text/html",
		FinalURL:    finalURL,
		EngineName:  e.Name(),
	}, nil
}

// waitReady applies the settle delay, then waits for the ready selector.
// With neither configured it waits for the DOM to stop changing.
func (e *RodEngine) waitReady(ctx context.Context, p *rod.Page, req *FetchRequest) error {
	if err := settle(ctx, e.opts.SettleDelay); err != nil {
		return classifyBrowserError(ctx, err)
	}

	if sel := e.opts.ReadySelector; sel != "" {
		wait := readyTimeout(e.opts, req)
		if _, err := p.Timeout(wait).Element(sel); err != nil {
			if ctx.Err() != nil {
				return classifyBrowserError(ctx, err)
			}
			return readinessError(sel, wait, err)
		}
		return nil
	}

	if e.opts.SettleDelay == 0 {
		if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
			slog.Debug("dom did not settle, using current document",
				slog.String("url", req.URL),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

// Close drains the page pool and shuts the browser down. It is safe to call
// more than once.
func (e *RodEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.pagePool.Cleanup(func(p *rod.Page) {
		_ = p.Close()
	})
	// An attached browser belongs to whoever started it.
	if e.launcher == nil {
		return nil
	}
	err := e.browser.Close()
	e.launcher.Kill()
	e.launcher.Cleanup()
	return err
}

func statusOrOK(status int) int {
	if status == 0 {
		return http.StatusOK
	}
	return status
}
