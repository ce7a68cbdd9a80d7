package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aluiziolira/reviewdash/loader"
	"github.com/aluiziolira/reviewdash/models"
	"github.com/aluiziolira/reviewdash/parser"
)

func sampleRecords(t *testing.T) []models.Record {
	t.Helper()
	first, err := parser.NewReview("2024-03-02", "5", "Crispy, hot prata")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	second, err := parser.NewReview("2024-01-20", "2", "nil")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	return []models.Record{
		{Restaurant: "Zam Zam", Review: first},
		{Restaurant: "Zam Zam", Review: second},
	}
}

func TestCSVWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exports", "reviews.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Write(sampleRecords(t)); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows=%d, want 3", len(rows))
	}
	if rows[0][0] != "Restaurant" || rows[0][1] != "DateOfReview" {
		t.Fatalf("unexpected header: %v", rows[0])
	}
	if rows[1][3] != "Crispy, hot prata" || rows[2][3] != "nil" || rows[2][4] != "Jan-2024" {
		t.Fatalf("unexpected rows: %v", rows[1:])
	}
}

func TestCSVExportLoadsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviews.csv")
	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	records := sampleRecords(t)
	if err := writer.Write(records); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	names, datasets, err := loader.Decode(loader.FormatCSV, data)
	if err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(names) != 1 || names[0] != "Zam Zam" {
		t.Fatalf("names = %v", names)
	}
	got := datasets["Zam Zam"].Reviews
	if len(got) != 2 || got[0] != records[0].Review || got[1] != records[1].Review {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestJSONWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviews.jsonl")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	if err := writer.Write(sampleRecords(t)); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []exportRecord
	for scanner.Scan() {
		var decoded exportRecord
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		lines = append(lines, decoded)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("json lines=%d, want 2", len(lines))
	}
	if lines[0].StarRating != 5 || lines[0].DateOfReview != "2024-03-02" || lines[1].ReviewDescription != "nil" {
		t.Fatalf("unexpected lines: %+v", lines)
	}
}

func TestNewWriterFormats(t *testing.T) {
	dir := t.TempDir()

	dual, err := NewWriter("dual", filepath.Join(dir, "reviews.csv"))
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}
	if err := dual.Write(sampleRecords(t)); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := dual.Validate(); err != nil {
		t.Fatalf("validate dual: %v", err)
	}
	if err := dual.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}
	for _, name := range []string{"reviews.csv", "reviews.jsonl"} {
		if info, err := os.Stat(filepath.Join(dir, name)); err != nil || info.Size() == 0 {
			t.Fatalf("%s missing or empty", name)
		}
	}

	if _, err := NewWriter("xml", filepath.Join(dir, "reviews.xml")); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestDualWriterCrossChecksCopies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export", "reviews.csv")
	records := sampleRecords(t)

	dual, err := NewDualWriter(path)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}
	defer dual.Close()
	if got := JSONLPath(path); filepath.Base(got) != "reviews.jsonl" {
		t.Fatalf("jsonl path = %s", got)
	}

	if err := dual.Write(records); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := dual.Validate(); err != nil {
		t.Fatalf("validate dual: %v", err)
	}

	// a review that reached only the csv copy
	if err := dual.csv.Write(records[:1]); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	var mismatch *OutputMismatchError
	if err := dual.Validate(); !errors.As(err, &mismatch) {
		t.Fatalf("expected mismatch error, got %v", err)
	}
	if mismatch.CSV != 3 || mismatch.JSONL != 2 {
		t.Fatalf("mismatch = %+v, want csv 3 jsonl 2", mismatch)
	}
}
