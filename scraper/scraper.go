// Package scraper drives fetch and parse over a batch of listing URLs.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-scrape-products/config"
	"github.com/aluiziolira/go-scrape-products/engine"
	"github.com/aluiziolira/go-scrape-products/models"
	"github.com/aluiziolira/go-scrape-products/parser"
	"github.com/aluiziolira/go-scrape-products/pipeline"
)

// Coordinator owns one engine for the duration of a run and turns a list of
// URLs into a BatchResult. A Coordinator runs one batch at a time.
type Coordinator struct {
	cfg     *config.Config
	engine  engine.Engine
	parser  *parser.Parser
	Metrics *Metrics

	running atomic.Bool
}

// NewCoordinator validates the run parameters and binds the collaborators.
func NewCoordinator(cfg *config.Config, eng engine.Engine, p *parser.Parser) (*Coordinator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: missing config", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if eng == nil {
		return nil, fmt.Errorf("%w: missing engine", ErrInvalidConfig)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: missing parser", ErrInvalidConfig)
	}
	return &Coordinator{
		cfg:     cfg,
		engine:  eng,
		parser:  p,
		Metrics: NewMetrics(),
	}, nil
}

// Run processes urls in input order and returns the aggregated result. One
// URL failing never aborts the batch. When ctx is done the URL in flight is
// dropped and the partial result is returned with Canceled set.
func (c *Coordinator) Run(ctx context.Context, urls []string) (*models.BatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer c.running.Store(false)

	runID := uuid.NewString()
	logger := slog.With(slog.String("run_id", runID))
	agg := pipeline.NewAggregator(runID)

	logger.Info("run started",
		slog.Int("urls", len(urls)),
		slog.String("engine", c.engine.Name()),
		slog.Int("workers", c.cfg.Workers),
	)

	var complete bool
	if c.cfg.Workers > 1 && len(urls) > 1 {
		complete = c.runParallel(ctx, logger, urls, agg)
	} else {
		complete = c.runSequential(ctx, logger, urls, agg)
	}
	if !complete {
		agg.MarkCanceled()
	}

	result := agg.Finalize()
	logger.Info("run finished",
		slog.Int("total", result.TotalURLs),
		slog.Int("succeeded", result.SucceededURLs),
		slog.Int("failed", result.FailedURLs),
		slog.Int("records", len(result.Records)),
		slog.Int("duplicates", result.DuplicateCount),
		slog.Bool("canceled", result.Canceled),
		slog.Duration("elapsed", result.EndTime.Sub(result.StartTime)),
	)
	return result, nil
}

func (c *Coordinator) runSequential(ctx context.Context, logger *slog.Logger, urls []string, agg *pipeline.Aggregator) bool {
	for i, u := range urls {
		if i > 0 {
			if err := sleep(ctx, c.cfg.Delay); err != nil {
				return false
			}
		}
		if ctx.Err() != nil {
			return false
		}

		page, ok := c.processURL(ctx, logger, u, nil)
		if !ok {
			return false
		}
		c.accumulate(logger, agg, page)
	}
	return true
}

// runParallel fetches distinct URLs on a bounded pool. Pacing is shared
// through one limiter and results are accumulated in input order once the
// pool drains, so the aggregator keeps a single writer.
func (c *Coordinator) runParallel(ctx context.Context, logger *slog.Logger, urls []string, agg *pipeline.Aggregator) bool {
	limit := rate.Inf
	if c.cfg.Delay > 0 {
		limit = rate.Every(c.cfg.Delay)
	}
	limiter := rate.NewLimiter(limit, 1)

	results := make([]*models.PageResult, len(urls))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < c.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				page, ok := c.processURL(ctx, logger, urls[i], limiter)
				if ok {
					results[i] = &page
				}
			}
		}()
	}

feed:
	for i := range urls {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	complete := true
	for _, page := range results {
		if page == nil {
			complete = false
			continue
		}
		c.accumulate(logger, agg, *page)
	}
	return complete && ctx.Err() == nil
}

func (c *Coordinator) accumulate(logger *slog.Logger, agg *pipeline.Aggregator, page models.PageResult) {
	if err := agg.Accumulate(page); err != nil {
		logger.Error("accumulate page", slog.String("url", page.SourceURL), slog.Any("error", err))
	}
}

// processURL walks one URL through fetching, retrying and parsing. The
// second return is false when ctx ended before the URL reached a terminal
// state; nothing from that URL is kept.
func (c *Coordinator) processURL(ctx context.Context, logger *slog.Logger, rawURL string, limiter *rate.Limiter) (models.PageResult, bool) {
	log := logger.With(slog.String("url", rawURL))
	state := models.StatePending

	var (
		fetched *engine.FetchResult
		attempt int
	)
	for {
		attempt++
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return models.PageResult{}, false
			}
		}

		state = models.StateFetching
		log.Info("fetch start", slog.Int("attempt", attempt), slog.String("state", string(state)))
		c.Metrics.IncRequest("started")

		start := time.Now()
		res, err := c.engine.Fetch(ctx, &engine.FetchRequest{URL: rawURL, Timeout: c.cfg.Timeout})
		c.Metrics.ObserveDuration(time.Since(start))
		if ctx.Err() != nil {
			log.Info("fetch abandoned", slog.Int("attempt", attempt))
			return models.PageResult{}, false
		}
		if err == nil {
			c.Metrics.IncRequest("completed")
			fetched = res
			break
		}

		kind := outcomeKind(err)
		c.Metrics.IncRequest("failed")
		c.Metrics.IncError(kind)
		if !kind.Retryable() || attempt > c.cfg.MaxRetries {
			return c.failed(log, rawURL, attempt, kind, err), true
		}

		state = models.StateRetrying
		c.Metrics.IncRetries()
		log.Warn("retry",
			slog.Int("attempt", attempt),
			slog.String("outcome_kind", string(kind)),
			slog.String("state", string(state)),
			slog.Duration("backoff", c.cfg.Delay),
			slog.Any("error", err),
		)
		if err := sleep(ctx, c.cfg.Delay); err != nil {
			return models.PageResult{}, false
		}
	}

	state = models.StateParsing
	log.Debug("parsing", slog.Int("bytes", len(fetched.Body)), slog.String("state", string(state)))
	records, err := c.parser.Parse(fetched.Body, rawURL)
	if err != nil {
		kind := outcomeKind(err)
		c.Metrics.IncError(kind)
		return c.failed(log, rawURL, attempt, kind, err), true
	}

	c.Metrics.AddRecords(len(records))
	c.Metrics.IncPage(true)
	log.Info("page parsed",
		slog.Int("attempt", attempt),
		slog.Int("records", len(records)),
		slog.String("state", string(models.StateDone)),
	)
	return models.PageResult{
		SourceURL: rawURL,
		Success:   true,
		Records:   records,
		Attempts:  attempt,
	}, true
}

func (c *Coordinator) failed(log *slog.Logger, rawURL string, attempts int, kind models.ErrorKind, err error) models.PageResult {
	c.Metrics.IncPage(false)
	log.Error("page failed",
		slog.Int("attempts", attempts),
		slog.String("outcome_kind", string(kind)),
		slog.String("state", string(models.StateFailed)),
		slog.Any("error", err),
	)
	return models.PageResult{
		SourceURL: rawURL,
		Error:     kind,
		Message:   err.Error(),
		Attempts:  attempts,
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
