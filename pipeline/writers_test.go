package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-products/models"
)

type failingWriter struct{ writes int }

func (f *failingWriter) Write([]models.Product) error { f.writes++; return errors.New("disk full") }
func (f *failingWriter) Close() error                 { return nil }
func (f *failingWriter) Validate() error              { return nil }

func sampleProduct() models.Product {
	launch := time.Date(2024, 4, 30, 8, 0, 0, 0, time.UTC)
	return models.Product{
		Name:       "Acme Notes",
		SourceURL:  "https://site.test/topics/productivity",
		Tagline:    "Take notes faster",
		URL:        "https://site.test/posts/acme-notes",
		Votes:      1200,
		Comments:   34,
		Maker:      "Jane",
		Category:   "Productivity",
		LaunchDate: &launch,
		ImageURL:   "https://cdn.test/acme.png",
		ScrapedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCSVWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "products.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Write([]models.Product{sampleProduct()}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records=%d, want 2", len(records))
	}
	if !reflect.DeepEqual(records[0], CSVHeader) {
		t.Fatalf("unexpected header: %v", records[0])
	}
	want := []string{
		"Acme Notes", "https://site.test/topics/productivity", "Take notes faster", "",
		"https://site.test/posts/acme-notes", "1200", "34", "Jane", "Productivity",
		"2024-04-30T08:00:00Z", "https://cdn.test/acme.png", "2024-05-01T12:00:00Z",
	}
	if !reflect.DeepEqual(records[1], want) {
		t.Fatalf("row = %v\nwant %v", records[1], want)
	}
}

func TestCSVWriterEmptyLaunchDate(t *testing.T) {
	p := sampleProduct()
	p.LaunchDate = nil
	if row := csvRow(p); row[9] != "" {
		t.Fatalf("launch date column = %q, want empty", row[9])
	}
}

func TestJSONWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "products.jsonl")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	if err := writer.Write([]models.Product{sampleProduct(), sampleProduct()}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	if got := countJSONLines(t, path); got != 2 {
		t.Fatalf("json lines=%d, want 2", got)
	}
}

func TestAppendJSONWriterKeepsExistingLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed", "products.jsonl")

	for i := 0; i < 2; i++ {
		writer, err := NewAppendJSONWriter(path)
		if err != nil {
			t.Fatalf("open append writer: %v", err)
		}
		if err := writer.Write([]models.Product{sampleProduct()}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := writer.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	if got := countJSONLines(t, path); got != 2 {
		t.Fatalf("json lines=%d, want 2", got)
	}
}

func TestDualWriterWrite(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "products.csv")
	jsonPath := filepath.Join(dir, "products.jsonl")

	writer, err := NewDualWriter(csvPath, jsonPath)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}
	if err := writer.Write([]models.Product{sampleProduct()}); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}

	if info, err := os.Stat(csvPath); err != nil || info.Size() == 0 {
		t.Fatalf("csv file missing or empty")
	}
	if info, err := os.Stat(jsonPath); err != nil || info.Size() == 0 {
		t.Fatalf("json file missing or empty")
	}
}

func TestMultiWriterKeepsWritingAfterFailure(t *testing.T) {
	bad := &failingWriter{}
	good := &mockWriter{}
	mw := NewMultiWriter([]string{"bad", "good"}, bad, good)

	err := mw.Write([]models.Product{sampleProduct()})
	if err == nil || !strings.Contains(err.Error(), "bad write") {
		t.Fatalf("expected named sink error, got %v", err)
	}
	if bad.writes != 1 || good.totalWritten() != 1 {
		t.Fatalf("bad writes=%d good records=%d", bad.writes, good.totalWritten())
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func countJSONLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		var decoded models.Product
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	return count
}
