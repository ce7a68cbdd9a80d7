package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aluiziolira/reviewdash/models"
)

// OutputMismatchError reports a dual export whose two copies hold a
// different number of reviews.
type OutputMismatchError struct {
	CSV   int
	JSONL int
}

func (e *OutputMismatchError) Error() string {
	return fmt.Sprintf("dual export out of step: csv has %d reviews, jsonl has %d", e.CSV, e.JSONL)
}

// JSONLPath is the companion JSONL file of a dual export to filename.
func JSONLPath(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename)) + ".jsonl"
}

// DualWriter exports reviews as CSV, which loads back as a dataset, and as a
// JSONL copy beside it.
type DualWriter struct {
	csv   *CSVWriter
	jsonl *JSONWriter
	mu    sync.Mutex
}

// NewDualWriter opens csvFilename and its JSONLPath companion.
func NewDualWriter(csvFilename string) (*DualWriter, error) {
	csvOut, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, err
	}
	jsonlOut, err := NewJSONWriter(JSONLPath(csvFilename))
	if err != nil {
		csvOut.Close()
		return nil, err
	}
	return &DualWriter{csv: csvOut, jsonl: jsonlOut}, nil
}

func (dw *DualWriter) Write(records []models.Record) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.csv.Write(records); err != nil {
		return fmt.Errorf("csv copy: %w", err)
	}
	if err := dw.jsonl.Write(records); err != nil {
		return fmt.Errorf("jsonl copy: %w", err)
	}
	return nil
}

func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return errors.Join(dw.csv.Close(), dw.jsonl.Close())
}

// Validate checks both files and that they hold the same number of reviews.
func (dw *DualWriter) Validate() error {
	if err := errors.Join(dw.csv.Validate(), dw.jsonl.Validate()); err != nil {
		return err
	}
	if c, j := dw.csv.Written(), dw.jsonl.Written(); c != j {
		return &OutputMismatchError{CSV: c, JSONL: j}
	}
	return nil
}
