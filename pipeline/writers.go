package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-products/models"
)

// CSVHeader follows the record attribute order.
var CSVHeader = []string{
	"name", "source_url", "tagline", "description", "url", "votes",
	"comments", "maker", "category", "launch_date", "image_url", "scraped_at",
}

// fileSink is a buffered output file that counts the bytes handed to it,
// so Validate can check they all reached the disk.
type fileSink struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	buf     *bufio.Writer
	base    int64
	written int64
}

func openSink(filename string, flag int) (*fileSink, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filename, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", filename, err)
	}
	return &fileSink{path: filename, file: f, buf: bufio.NewWriter(f), base: info.Size()}, nil
}

func (s *fileSink) Write(p []byte) (int, error) {
	n, err := s.buf.Write(p)
	s.written += int64(n)
	return n, err
}

func (s *fileSink) flush() error {
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	return nil
}

func (s *fileSink) close() error {
	if err := s.flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// validate checks the file holds at least everything written through it.
// An export of zero records is valid.
func (s *fileSink) validate() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", s.path, err)
	}
	if want := s.base + s.written; info.Size() < want {
		return fmt.Errorf("%s is short: %d of %d bytes on disk", s.path, info.Size(), want)
	}
	return nil
}

// CSVWriter writes records to CSV with a header row.
type CSVWriter struct {
	sink *fileSink
	csv  *csv.Writer
}

// NewCSVWriter truncates filename and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	sink, err := openSink(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
	if err != nil {
		return nil, err
	}

	w := &CSVWriter{sink: sink, csv: csv.NewWriter(sink)}
	if err := w.csv.Write(CSVHeader); err != nil {
		sink.file.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return w, nil
}

// Write appends records and flushes them to disk.
func (cw *CSVWriter) Write(records []models.Product) error {
	cw.sink.mu.Lock()
	defer cw.sink.mu.Unlock()

	for _, r := range records {
		if err := cw.csv.Write(csvRow(r)); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.csv.Flush()
	if err := cw.csv.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return cw.sink.flush()
}

func csvRow(r models.Product) []string {
	launch := ""
	if r.LaunchDate != nil {
		launch = r.LaunchDate.UTC().Format(time.RFC3339)
	}
	return []string{
		r.Name,
		r.SourceURL,
		r.Tagline,
		r.Description,
		r.URL,
		strconv.Itoa(r.Votes),
		strconv.Itoa(r.Comments),
		r.Maker,
		r.Category,
		launch,
		r.ImageURL,
		r.ScrapedAt.UTC().Format(time.RFC3339),
	}
}

func (cw *CSVWriter) Close() error {
	cw.sink.mu.Lock()
	defer cw.sink.mu.Unlock()

	cw.csv.Flush()
	if err := cw.csv.Error(); err != nil {
		cw.sink.file.Close()
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.sink.close()
}

func (cw *CSVWriter) Validate() error {
	cw.sink.mu.Lock()
	defer cw.sink.mu.Unlock()
	return cw.sink.validate()
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	sink *fileSink
	enc  *json.Encoder
}

// NewJSONWriter truncates filename.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	return openJSONWriter(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
}

// NewAppendJSONWriter opens filename for appending, so a feed survives
// restarts.
func NewAppendJSONWriter(filename string) (*JSONWriter, error) {
	return openJSONWriter(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND)
}

func openJSONWriter(filename string, flag int) (*JSONWriter, error) {
	sink, err := openSink(filename, flag)
	if err != nil {
		return nil, err
	}
	return &JSONWriter{sink: sink, enc: json.NewEncoder(sink)}, nil
}

// Write appends one line per record and flushes them to disk.
func (jw *JSONWriter) Write(records []models.Product) error {
	jw.sink.mu.Lock()
	defer jw.sink.mu.Unlock()

	for _, r := range records {
		if err := jw.enc.Encode(r); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}
	return jw.sink.flush()
}

func (jw *JSONWriter) Close() error {
	jw.sink.mu.Lock()
	defer jw.sink.mu.Unlock()
	return jw.sink.close()
}

func (jw *JSONWriter) Validate() error {
	jw.sink.mu.Lock()
	defer jw.sink.mu.Unlock()
	return jw.sink.validate()
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
