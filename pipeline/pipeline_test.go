package pipeline

import (
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-products/models"
)

type mockWriter struct {
	mu          sync.Mutex
	batches     [][]models.Product
	closed      bool
	validateErr error
}

func (mw *mockWriter) Write(records []models.Product) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	copyBatch := make([]models.Product, len(records))
	copy(copyBatch, records)
	mw.batches = append(mw.batches, copyBatch)
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed = true
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) Validate() error {
	return mw.validateErr
}

func (mw *mockWriter) totalWritten() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	total := 0
	for _, batch := range mw.batches {
		total += len(batch)
	}
	return total
}

func (mw *mockWriter) batchSizes() []int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	sizes := make([]int, 0, len(mw.batches))
	for _, batch := range mw.batches {
		sizes = append(sizes, len(batch))
	}
	return sizes
}

type blockingWriter struct {
	blockCh chan struct{}
}

func (bw *blockingWriter) Write(records []models.Product) error {
	<-bw.blockCh
	return nil
}

func (bw *blockingWriter) Close() error {
	return nil
}

func (bw *blockingWriter) Validate() error {
	return nil
}

func newTestPipeline(t *testing.T, writer OutputWriter, maxSeen int) *Pipeline {
	t.Helper()
	p, err := NewPipeline(writer, maxSeen)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func TestPipelineProcessValidationAndDedup(t *testing.T) {
	writer := &mockWriter{}
	p := newTestPipeline(t, writer, 100)
	p.Start(1)

	valid := product("Acme Notes", "https://site.test/a")
	invalid := product("", "https://site.test/a")
	duplicate := product("Acme Notes", "https://site.test/a")

	if err := p.Process(valid, invalid, duplicate); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 1 {
		t.Fatalf("written records = %d, want 1", got)
	}
	if !writer.closed {
		t.Fatalf("writer should be closed")
	}

	metrics := p.GetMetrics()
	validation, ok := metrics["validation_errors"].(map[string]int)
	if !ok {
		t.Fatalf("expected validation errors map")
	}
	if validation["invalid_record"] == 0 {
		t.Fatalf("expected invalid_record validation error")
	}
	if validation["duplicate"] == 0 {
		t.Fatalf("expected duplicate validation error")
	}
}

func TestPipelineSeenSetIsBounded(t *testing.T) {
	writer := &mockWriter{}
	p := newTestPipeline(t, writer, 2)
	p.Start(1)

	a := product("A", "https://site.test/")
	b := product("B", "https://site.test/")
	c := product("C", "https://site.test/")

	// A is evicted by B and C, so the second A is written again.
	if err := p.Process(a, b, c, a); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := writer.totalWritten(); got != 4 {
		t.Fatalf("written records = %d, want 4", got)
	}
}

func TestPipelineBatchFlushThreshold(t *testing.T) {
	writer := &mockWriter{}
	p := newTestPipeline(t, writer, 1000)
	p.Start(1)

	for i := 0; i < 65; i++ {
		if err := p.Process(product("Product "+strconv.Itoa(i), "https://site.test/")); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sizes := writer.batchSizes()
	if len(sizes) != 2 {
		t.Fatalf("batch writes = %d, want 2", len(sizes))
	}
	if sizes[0] != 64 || sizes[1] != 1 {
		t.Fatalf("batch sizes = %v, want [64 1]", sizes)
	}
}

func TestPipelineFlushEveryWritesPartialBatch(t *testing.T) {
	writer := &mockWriter{}
	p := newTestPipeline(t, writer, 1000)
	p.FlushEvery(10 * time.Millisecond)
	p.Start(1)
	defer p.Close()

	if err := p.Process(product("Lonely", "https://site.test/")); err != nil {
		t.Fatalf("process: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for writer.totalWritten() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("partial batch was not flushed before close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPipelineCloseDrainsPendingItems(t *testing.T) {
	writer := &mockWriter{}
	p := newTestPipeline(t, writer, 1000)
	p.Start(2)

	for i := 0; i < 100; i++ {
		if err := p.Process(product("Product "+strconv.Itoa(i+200), "https://site.test/")); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 100 {
		t.Fatalf("written records = %d, want 100", got)
	}
	if err := p.Process(product("late", "https://site.test/")); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("expected ErrPipelineClosed, got %v", err)
	}
}

func TestPipelineCloseTimeout(t *testing.T) {
	writer := &blockingWriter{blockCh: make(chan struct{})}
	p := newTestPipeline(t, writer, 10)
	p.batchSize = 1
	p.Start(1)

	if err := p.Process(product("Blocked", "https://site.test/")); err != nil {
		t.Fatalf("process: %v", err)
	}

	previousTimeout := drainTimeout
	drainTimeout = 25 * time.Millisecond
	t.Cleanup(func() {
		drainTimeout = previousTimeout
		close(writer.blockCh)
	})

	if err := p.Close(); err == nil || !errors.Is(err, ErrPipelineCloseTimeout) {
		t.Fatalf("expected close timeout error, got %v", err)
	}
}

func TestNewPipelineRejectsZeroSize(t *testing.T) {
	if _, err := NewPipeline(&mockWriter{}, 0); err == nil {
		t.Fatalf("expected error for zero seen set size")
	}
}
