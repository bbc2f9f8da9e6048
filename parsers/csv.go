package parsers

import (
	"encoding/csv"
	"io"
	"os"
	"strings"
)

// csvSheetName is the single sheet name reported for CSV files.
const csvSheetName = "Sheet1"

// csvRows streams rows from a CSV file.
type csvRows struct {
	file   *os.File
	reader *csv.Reader
	cur    RawRow
	err    error
}

func openCSVRows(path string) (*csvRows, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // Allow variable number of fields
	reader.LazyQuotes = true

	return &csvRows{file: file, reader: reader}, nil
}

func (r *csvRows) Next() bool {
	if r.err != nil {
		return false
	}
	record, err := r.reader.Read()
	if err == io.EOF {
		return false
	}
	if err != nil {
		r.err = &DecodeError{Path: r.file.Name(), Err: err}
		return false
	}

	row := make(RawRow, len(record))
	for i, cell := range record {
		row[i] = csvValue(cell)
	}
	r.cur = row
	return true
}

func (r *csvRows) Row() RawRow  { return r.cur }
func (r *csvRows) Err() error   { return r.err }
func (r *csvRows) Close() error { return r.file.Close() }

// csvValue types a CSV cell: numbers and TRUE/FALSE literals are converted.
func csvValue(cell string) any {
	switch strings.ToUpper(cell) {
	case "TRUE":
		return true
	case "FALSE":
		return false
	}
	return inferValue(cell)
}
