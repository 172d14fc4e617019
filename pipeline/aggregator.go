package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-products/models"
)

// ErrFinalized is returned by Accumulate once Finalize has been called.
var ErrFinalized = errors.New("pipeline: aggregator finalized")

// Aggregator merges page results into one BatchResult. Records are
// deduplicated on (name, source_url); the first one seen is kept and run
// order is preserved.
type Aggregator struct {
	mu sync.Mutex

	runID    string
	start    time.Time
	pages    []models.PageResult
	records  []models.Product
	errors   []models.URLError
	byKind   map[models.ErrorKind]int
	seen     map[models.DedupKey]struct{}
	requests int
	retries  int
	canceled bool

	metrics metrics
	final   *models.BatchResult
	now     func() time.Time
}

// NewAggregator starts an aggregation for runID.
func NewAggregator(runID string) *Aggregator {
	return &Aggregator{
		runID:   runID,
		start:   time.Now(),
		byKind:  make(map[models.ErrorKind]int),
		seen:    make(map[models.DedupKey]struct{}),
		metrics: newMetrics(),
		now:     time.Now,
	}
}

// Accumulate adds one page outcome.
func (a *Aggregator) Accumulate(page models.PageResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.final != nil {
		return ErrFinalized
	}

	a.requests += page.Attempts
	if page.Attempts > 1 {
		a.retries += page.Attempts - 1
	}

	stored := page
	stored.Records = nil

	if !page.Success {
		a.errors = append(a.errors, models.URLError{
			URL:     page.SourceURL,
			Kind:    page.Error,
			Message: page.Message,
		})
		a.byKind[page.Error]++
		a.pages = append(a.pages, stored)
		return nil
	}

	for _, record := range page.Records {
		if err := record.Validate(); err != nil {
			a.metrics.addValidation(string(models.KindInvalidRecord))
			continue
		}
		key := record.Key()
		if _, ok := a.seen[key]; ok {
			a.metrics.addValidation("duplicate")
			continue
		}
		a.seen[key] = struct{}{}
		kept := record.Clone()
		a.records = append(a.records, kept)
		stored.Records = append(stored.Records, kept)
		a.metrics.incrementProcessed()
	}
	a.pages = append(a.pages, stored)
	return nil
}

// MarkCanceled flags the result as partial.
func (a *Aggregator) MarkCanceled() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.final == nil {
		a.canceled = true
	}
}

// Finalize builds the BatchResult. Later calls return an equal result
// without processing anything again.
func (a *Aggregator) Finalize() *models.BatchResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.final == nil {
		succeeded := 0
		for _, p := range a.pages {
			if p.Success {
				succeeded++
			}
		}
		a.final = &models.BatchResult{
			RunID:          a.runID,
			TotalURLs:      len(a.pages),
			SucceededURLs:  succeeded,
			FailedURLs:     len(a.pages) - succeeded,
			Records:        a.records,
			Errors:         a.errors,
			Pages:          a.pages,
			Canceled:       a.canceled,
			StartTime:      a.start,
			EndTime:        a.now(),
			RetryCount:     a.retries,
			RequestCount:   a.requests,
			DuplicateCount: a.metrics.count("duplicate"),
			ErrorsByKind:   a.byKind,
		}
		if a.final.Records == nil {
			a.final.Records = []models.Product{}
		}
		if a.final.Errors == nil {
			a.final.Errors = []models.URLError{}
		}
	}
	return cloneBatch(a.final)
}

// GetMetrics returns processed and rejected record counts.
func (a *Aggregator) GetMetrics() map[string]interface{} {
	return a.metrics.snapshot()
}

// cloneBatch copies the slices and map so callers cannot alter the cached
// result.
func cloneBatch(b *models.BatchResult) *models.BatchResult {
	out := *b
	out.Records = make([]models.Product, len(b.Records))
	for i, r := range b.Records {
		out.Records[i] = r.Clone()
	}
	out.Errors = append([]models.URLError{}, b.Errors...)
	out.Pages = make([]models.PageResult, len(b.Pages))
	for i, p := range b.Pages {
		p.Records = append([]models.Product(nil), p.Records...)
		out.Pages[i] = p
	}
	out.ErrorsByKind = make(map[models.ErrorKind]int, len(b.ErrorsByKind))
	for k, v := range b.ErrorsByKind {
		out.ErrorsByKind[k] = v
	}
	return &out
}
