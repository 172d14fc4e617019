package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-scrape-products/models"
)

// MultiWriter fans every batch out to several sinks. A failing sink does
// not stop the others from receiving the batch.
type MultiWriter struct {
	mu      sync.Mutex
	writers []OutputWriter
	names   []string
}

// NewMultiWriter combines named sinks. names and writers are paired by index.
func NewMultiWriter(names []string, writers ...OutputWriter) *MultiWriter {
	return &MultiWriter{writers: writers, names: names}
}

// NewDualWriter writes CSV and JSONL side by side.
func NewDualWriter(csvFilename, jsonFilename string) (*MultiWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("create csv writer: %w", err)
	}
	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("create json writer: %w", err)
	}
	return NewMultiWriter([]string{"csv", "jsonl"}, csvWriter, jsonWriter), nil
}

func (mw *MultiWriter) Write(records []models.Product) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.each("write", func(w OutputWriter) error { return w.Write(records) })
}

func (mw *MultiWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.each("close", OutputWriter.Close)
}

func (mw *MultiWriter) Validate() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.each("validate", OutputWriter.Validate)
}

func (mw *MultiWriter) each(op string, fn func(OutputWriter) error) error {
	var errs []error
	for i, w := range mw.writers {
		if err := fn(w); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", mw.name(i), op, err))
		}
	}
	return errors.Join(errs...)
}

func (mw *MultiWriter) name(i int) string {
	if i < len(mw.names) {
		return mw.names[i]
	}
	return fmt.Sprintf("sink %d", i)
}
