// Package pipeline aggregates page results and delivers records to output
// writers.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-products/models"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

var drainTimeout = 30 * time.Second

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []models.Product) error
	Close() error
	Validate() error
}

// Pipeline streams records to an OutputWriter across runs, dropping invalid
// records and records seen recently. The seen set is bounded, so a product
// evicted from it is written again when it reappears.
type Pipeline struct {
	writer     OutputWriter
	recordCh   chan models.Product
	batchSize  int
	flushEvery time.Duration

	wg sync.WaitGroup

	seen *lru.Cache[models.DedupKey, struct{}]

	metrics metrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline remembering up to maxSeen keys.
func NewPipeline(writer OutputWriter, maxSeen int) (*Pipeline, error) {
	if maxSeen <= 0 {
		return nil, fmt.Errorf("pipeline: seen set size must be positive")
	}
	seen, err := lru.New[models.DedupKey, struct{}](maxSeen)
	if err != nil {
		return nil, fmt.Errorf("pipeline: seen set: %w", err)
	}
	return &Pipeline{
		writer:    writer,
		recordCh:  make(chan models.Product, 512),
		batchSize: 64,
		seen:      seen,
		metrics:   newMetrics(),
		shutdown:  make(chan struct{}),
	}, nil
}

// FlushEvery makes workers write a partial batch once d has passed
// without it filling up. Call it before Start; zero disables the timer.
func (p *Pipeline) FlushEvery(d time.Duration) {
	p.flushEvery = d
}

// Start launches worker goroutines. A single worker keeps output in
// submission order.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues records for downstream processing.
func (p *Pipeline) Process(records ...models.Product) error {
	if len(records) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, record := range records {
		if err := p.enqueue(record); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for workers to finish and prevents more submissions.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.recordCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		return ErrPipelineCloseTimeout
	}

	if err := p.writer.Close(); err != nil {
		p.setErr(fmt.Errorf("close writer: %w", err))
	}
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m := p.GetMetrics()
				slog.Info("feed progress",
					slog.Int64("processed", m["processed_records"].(int64)),
					slog.Any("validation_errors", m["validation_errors"]),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]models.Product, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	var tick <-chan time.Time
	if p.flushEvery > 0 {
		ticker := time.NewTicker(p.flushEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case record, ok := <-p.recordCh:
			if !ok {
				if err := flush(); err != nil {
					p.setErr(fmt.Errorf("write batch: %w", err))
				}
				return
			}
			if !p.admit(record) {
				continue
			}
			batch = append(batch, record)
			if len(batch) < p.batchSize {
				continue
			}
		case <-tick:
		}
		if err := flush(); err != nil {
			p.setErr(fmt.Errorf("write batch: %w", err))
			return
		}
	}
}

func (p *Pipeline) admit(record models.Product) bool {
	if err := record.Validate(); err != nil {
		p.metrics.addValidation(string(models.KindInvalidRecord))
		return false
	}

	// ContainsOrAdd is atomic, so concurrent workers never admit a key twice.
	if found, _ := p.seen.ContainsOrAdd(record.Key(), struct{}{}); found {
		p.metrics.addValidation("duplicate")
		return false
	}

	p.metrics.incrementProcessed()
	return true
}

func (p *Pipeline) enqueue(record models.Product) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.recordCh <- record:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.recordCh)
	})
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu         *sync.Mutex
	processed  int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		mu:         &sync.Mutex{},
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validation[kind]
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_records": m.processed,
		"validation_errors": copyValidation,
	}
}
