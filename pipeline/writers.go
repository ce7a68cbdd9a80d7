package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/aluiziolira/reviewdash/models"
)

// Header is the CSV header. It uses the dataset field names so an export can
// be loaded back as a dataset.
var Header = []string{"Restaurant", "DateOfReview", "StarRating", "ReviewDescription", "month_year"}

// exportRecord is one review in dataset form.
type exportRecord struct {
	Restaurant        string `json:"Restaurant"`
	DateOfReview      string `json:"DateOfReview"`
	StarRating        int    `json:"StarRating"`
	ReviewDescription string `json:"ReviewDescription"`
	Month             string `json:"month_year"`
}

func toExport(rec models.Record) exportRecord {
	desc := rec.Description
	if !rec.HasDescription {
		desc = "nil"
	}
	return exportRecord{
		Restaurant:        rec.Restaurant,
		DateOfReview:      rec.DateOfReview.Format(models.DateLayout),
		StarRating:        rec.StarRating,
		ReviewDescription: desc,
		Month:             rec.MonthBucket,
	}
}

// CSVWriter writes records to CSV.
type CSVWriter struct {
	file    *os.File
	writer  *csv.Writer
	written int
	mu      sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends records to the CSV output.
func (cw *CSVWriter) Write(records []models.Record) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, rec := range records {
		out := toExport(rec)
		row := []string{
			out.Restaurant,
			out.DateOfReview,
			strconv.Itoa(out.StarRating),
			out.ReviewDescription,
			out.Month,
		}
		if err := cw.writer.Write(row); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
		cw.written++
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Written is the number of reviews written so far.
func (cw *CSVWriter) Written() int {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.written
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file has content besides the header.
func (cw *CSVWriter) Validate() error {
	info, err := cw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	written int
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends records in JSONL format.
func (jw *JSONWriter) Write(records []models.Record) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, rec := range records {
		if err := jw.encoder.Encode(toExport(rec)); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
		jw.written++
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

func (jw *JSONWriter) Written() int {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.written
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	info, err := jw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
}

// NewWriter opens a writer for format: csv, json (JSONL) or dual. A dual
// writer puts the JSONL copy next to filename with a .jsonl extension.
func NewWriter(format, filename string) (OutputWriter, error) {
	switch strings.ToLower(format) {
	case "json", "jsonl":
		return NewJSONWriter(filename)
	case "csv":
		return NewCSVWriter(filename)
	case "dual":
		return NewDualWriter(filename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
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
