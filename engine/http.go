package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// HTTPEngine issues a single GET per fetch through a colly collector. Clones
// of the base collector share its transport, so connections are kept alive
// across fetches.
type HTTPEngine struct {
	collector *colly.Collector
	headers   map[string]string
}

// NewHTTPEngine builds the plain HTTP engine.
func NewHTTPEngine(opts Options) *HTTPEngine {
	collector := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	collector.IgnoreRobotsTxt = !opts.RespectRobotsTxt
	// The per-fetch context carries the deadline; colly's client-wide
	// default of 10s would cut longer timeouts short.
	collector.SetRequestTimeout(0)

	if opts.Transport != nil {
		collector.WithTransport(opts.Transport)
	} else {
		collector.WithTransport(&http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		})
	}

	headers := make(map[string]string, len(DefaultHeaders)+len(opts.Headers))
	for k, v := range DefaultHeaders {
		headers[k] = v
	}
	for k, v := range opts.Headers {
		headers[k] = v
	}

	return &HTTPEngine{collector: collector, headers: headers}
}

func (e *HTTPEngine) Name() string { return string(KindHTTP) }

// Fetch performs one GET. A non-success status is reported as a typed error.
func (e *HTTPEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout(req))
	defer cancel()

	c := e.collector.Clone()
	c.Context = ctx

	c.OnRequest(func(r *colly.Request) {
		for k, v := range e.headers {
			r.Headers.Set(k, v)
		}
	})

	var result *FetchResult
	c.OnResponse(func(r *colly.Response) {
		result = &FetchResult{
			Body:        r.Body,
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			FinalURL:    r.Request.URL.String(),
			EngineName:  e.Name(),
		}
	})

	var visitErr error
	c.OnError(func(r *colly.Response, err error) {
		visitErr = err
	})

	if err := c.Visit(req.URL); err != nil && visitErr == nil {
		visitErr = err
	}

	if errors.Is(visitErr, colly.ErrRobotsTxtBlocked) {
		return nil, ErrBlocked{Err: visitErr}
	}

	status := 0
	if result != nil {
		status = result.StatusCode
	}
	if classified := classifyError(visitErr, status); classified != nil {
		slog.Debug("http fetch failed",
			slog.String("url", req.URL),
			slog.Int("status", status),
			slog.String("outcome_kind", string(KindOf(classified))),
		)
		return nil, classified
	}
	if result == nil {
		return nil, ErrNetwork{Err: fmt.Errorf("no response for %s", req.URL)}
	}
	return result, nil
}

// Close is a no-op; idle connections belong to the shared transport.
func (e *HTTPEngine) Close() error { return nil }
