package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/chromedp"
)

// ChromedpEngine renders pages with chromedp. One browser is started at
// construction; each fetch runs in its own tab.
type ChromedpEngine struct {
	opts Options

	cancelAlloc  context.CancelFunc
	browserCtx   context.Context
	cancelBrowse context.CancelFunc

	tabs chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewChromedpEngine starts (or attaches to) the browser.
func NewChromedpEngine(ctx context.Context, opts Options) (*ChromedpEngine, error) {
	base := context.WithoutCancel(ctx)

	var allocCtx context.Context
	var cancelAlloc context.CancelFunc
	if opts.ControlURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(base, opts.ControlURL)
	} else {
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", opts.Headless),
			chromedp.WindowSize(1920, 1080),
		)
		if opts.NoSandbox {
			allocOpts = append(allocOpts, chromedp.NoSandbox)
		}
		if opts.UserAgent != "" {
			allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
		}
		if opts.BrowserBin != "" {
			allocOpts = append(allocOpts, chromedp.ExecPath(opts.BrowserBin))
		}
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(base, allocOpts...)
	}

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("%w: start browser: %v", ErrSessionUnavailable, err)
	}
	slog.Info("browser started", slog.String("driver", "chromedp"))

	pages := opts.Pages
	if pages <= 0 {
		pages = 1
	}

	return &ChromedpEngine{
		opts:         opts,
		cancelAlloc:  cancelAlloc,
		browserCtx:   browserCtx,
		cancelBrowse: cancelBrowser,
		tabs:         make(chan struct{}, pages),
	}, nil
}

func (e *ChromedpEngine) Name() string { return "chromedp" }

// Fetch opens a tab, navigates to req.URL and returns the rendered document.
func (e *ChromedpEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	select {
	case e.tabs <- struct{}{}:
		defer func() { <-e.tabs }()
	case <-ctx.Done():
		return nil, classifyBrowserError(ctx, ctx.Err())
	}

	tabCtx, cancelTab := chromedp.NewContext(e.browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	runCtx, cancel := context.WithTimeout(tabCtx, requestTimeout(req))
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Navigate(req.URL)); err != nil {
		return nil, classifyBrowserError(runCtx, err)
	}

	var status int
	if err := chromedp.Run(runCtx, chromedp.Evaluate("("+navigationStatusJS+")()", &status)); err != nil {
		status = 0
	}
	if classified := classifyError(nil, status); classified != nil {
		return nil, classified
	}

	if err := settle(runCtx, e.opts.SettleDelay); err != nil {
		return nil, classifyBrowserError(runCtx, err)
	}

	if sel := e.opts.ReadySelector; sel != "" {
		wait := readyTimeout(e.opts, req)
		waitCtx, cancelWait := context.WithTimeout(runCtx, wait)
		err := chromedp.Run(waitCtx, chromedp.WaitReady(sel, chromedp.ByQuery))
		cancelWait()
		if err != nil {
			if runCtx.Err() != nil {
				return nil, classifyBrowserError(runCtx, err)
			}
			return nil, readinessError(sel, wait, err)
		}
	}

	var rawHTML, finalURL string
	if err := chromedp.Run(runCtx,
		chromedp.Evaluate(`document.documentElement.outerHTML`, &rawHTML),
		chromedp.Location(&finalURL),
	); err != nil {
		return nil, classifyBrowserError(runCtx, err)
	}

	if finalURL == "" {
		finalURL = req.URL
	}

	return &FetchResult{
		Body:        []byte(rawHTML),
		StatusCode:  statusOrOK(status),
		ContentType: "text/html",
		FinalURL:    finalURL,
		EngineName:  e.Name(),
	}, nil
}

// Close stops the browser. It is safe to call more than once.
func (e *ChromedpEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	err := chromedp.Cancel(e.browserCtx)
	e.cancelBrowse()
	e.cancelAlloc()
	return err
}
