// Package data implements the batch source feeding the training loop and
// the evaluator: CSV datasets merged per split, collation into token
// batches and a prefetching loader.
package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Split names a dataset partition.
type Split string

// Dataset splits.
const (
	Train Split = "train"
	Eval  Split = "eval"
)

// ErrMalformedRow marks a row that cannot be turned into an example.
var ErrMalformedRow = errors.New("malformed row")

// RowError locates a malformed row. It wraps ErrMalformedRow.
type RowError struct {
	File   string
	Line   int
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s:%d: %s: %s", e.File, e.Line, ErrMalformedRow, e.Reason)
}

// Unwrap returns ErrMalformedRow.
func (e *RowError) Unwrap() error {
	return ErrMalformedRow
}

// Record is one raw CSV row with its origin.
type Record struct {
	File   string
	Line   int // 1-based line in File
	Fields []string
}

// Dataset is the concatenation of every CSV file listed for a split, in
// the order given. The first row of every file is a header and is skipped.
type Dataset struct {
	records []Record
}

// LoadDataset reads and merges files. Relative paths are resolved against
// dir.
func LoadDataset(dir string, files []string) (*Dataset, error) {
	if len(files) == 0 {
		return nil, errors.New("dataset: no files listed")
	}
	ds := &Dataset{}
	for _, name := range files {
		path := name
		if !filepath.IsAbs(path) && dir != "" {
			path = filepath.Join(dir, name)
		}
		records, err := readCSV(path)
		if err != nil {
			return nil, err
		}
		ds.records = append(ds.records, records...)
	}
	return ds, nil
}

// NewDataset wraps in-memory records.
func NewDataset(records []Record) *Dataset {
	return &Dataset{records: records}
}

func readCSV(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	var records []Record
	for row := 0; ; row++ {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			line := 0
			if errors.As(err, &parseErr) {
				line = parseErr.Line
			}
			return nil, &RowError{File: path, Line: line, Reason: err.Error()}
		}
		line, _ := reader.FieldPos(0)
		if row == 0 {
			continue // header
		}
		records = append(records, Record{File: path, Line: line, Fields: fields})
	}
	return records, nil
}

// Len returns the number of examples.
func (d *Dataset) Len() int {
	return len(d.records)
}

// At returns example i.
func (d *Dataset) At(i int) Record {
	return d.records[i]
}

// Column returns field col of every record that has it.
func (d *Dataset) Column(col int) []string {
	out := make([]string, 0, len(d.records))
	for _, r := range d.records {
		if col < len(r.Fields) {
			out = append(out, r.Fields[col])
		}
	}
	return out
}
