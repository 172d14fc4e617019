package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/go-scrape-products/models"
)

// Export formats.
const (
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
	FormatDual  = "dual"
)

// Export writes records to path in format and returns the files written.
// The dual format derives a .csv and a .jsonl file from path.
func Export(records []models.Product, path, format string) ([]string, error) {
	if records == nil {
		records = []models.Product{}
	}

	switch format {
	case FormatJSON:
		return []string{path}, writeJSONArray(records, path)
	case FormatJSONL:
		w, err := NewJSONWriter(path)
		if err != nil {
			return nil, err
		}
		return []string{path}, writeAll(w, records)
	case FormatCSV:
		w, err := NewCSVWriter(path)
		if err != nil {
			return nil, err
		}
		return []string{path}, writeAll(w, records)
	case FormatDual:
		csvPath, jsonPath := DualPaths(path)
		w, err := NewDualWriter(csvPath, jsonPath)
		if err != nil {
			return nil, err
		}
		return []string{csvPath, jsonPath}, writeAll(w, records)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// DualPaths swaps the extension of path for .csv and .jsonl.
func DualPaths(path string) (string, string) {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	return base + ".csv", base + ".jsonl"
}

func writeAll(w OutputWriter, records []models.Product) error {
	if err := w.Write(records); err != nil {
		w.Close()
		return err
	}
	if err := w.Validate(); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func writeJSONArray(records []models.Product, path string) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json export: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write json export: %w", err)
	}
	return nil
}
