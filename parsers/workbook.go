package parsers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Mode selects how sheet rows are read.
type Mode string

const (
	// ModeStandard loads the whole sheet and resolves cell types.
	ModeStandard Mode = "standard"
	// ModeDense streams rows, reading cell types alongside the values.
	ModeDense Mode = "dense"
)

// denseXMLLimit makes excelize spill worksheet XML above this size to disk
// instead of holding it in memory.
const denseXMLLimit = 4 << 20

var zipMagic = []byte("PK\x03\x04")

// Workbook is an opened spreadsheet file.
type Workbook struct {
	path   string
	mode   Mode
	xlsx   *excelize.File // nil for CSV
	sheets []string
}

// Decode opens the spreadsheet at path.
// xlsx files are recognized by their zip signature; files ending in .csv
// are read as CSV with a single sheet named "Sheet1".
func Decode(path string, mode Mode) (*Workbook, error) {
	isZip, err := hasZipSignature(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	if !isZip && strings.EqualFold(filepath.Ext(path), ".csv") {
		return &Workbook{path: path, mode: mode, sheets: []string{csvSheetName}}, nil
	}

	opts := excelize.Options{}
	if mode == ModeDense {
		opts.UnzipXMLSizeLimit = denseXMLLimit
	}
	f, err := excelize.OpenFile(path, opts)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, &DecodeError{Path: path, Err: ErrNoSheets}
	}

	return &Workbook{path: path, mode: mode, xlsx: f, sheets: sheets}, nil
}

// SheetNames returns the sheet names in workbook order.
func (w *Workbook) SheetNames() []string {
	return w.sheets
}

// FirstSheet returns the sheet selected for conversion.
func (w *Workbook) FirstSheet() (string, error) {
	if len(w.sheets) == 0 {
		return "", &DecodeError{Path: w.path, Err: ErrNoSheets}
	}
	return w.sheets[0], nil
}

// Rows returns a lazy iterator over the rows of sheet.
func (w *Workbook) Rows(sheet string) (Rows, error) {
	if w.xlsx == nil {
		return openCSVRows(w.path)
	}
	if w.mode == ModeDense {
		return w.streamRows(sheet)
	}

	raw, err := w.xlsx.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, &DecodeError{Path: w.path, Err: err}
	}
	rows := make([]RawRow, len(raw))
	for r, cols := range raw {
		row := make(RawRow, len(cols))
		for c, value := range cols {
			row[c] = w.typedCell(sheet, c+1, r+1, value)
		}
		rows[r] = row
	}
	return NewSliceRows(rows), nil
}

// streamRows walks sheet with excelize's streaming iterator, typing each
// cell from the worksheet's stored cell types.
func (w *Workbook) streamRows(sheet string) (*xlsxRows, error) {
	rows, err := w.xlsx.Rows(sheet)
	if err != nil {
		return nil, &DecodeError{Path: w.path, Err: err}
	}
	types, err := newCellTypeScanner(w.path, sheet)
	if err != nil {
		_ = rows.Close()
		return nil, &DecodeError{Path: w.path, Err: err}
	}
	return &xlsxRows{path: w.path, rows: rows, types: types}, nil
}

// Header returns the first non-blank row of sheet, reading no further.
func (w *Workbook) Header(sheet string) (RawRow, error) {
	var rows Rows
	var err error
	if w.xlsx == nil {
		rows, err = openCSVRows(w.path)
	} else {
		rows, err = w.streamRows(sheet)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	read := 0
	for rows.Next() {
		read++
		if row := rows.Row(); !isBlankRow(row) {
			return row, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, &InsufficientDataError{Rows: read}
}

// Close releases the underlying file.
func (w *Workbook) Close() error {
	if w.xlsx == nil {
		return nil
	}
	return w.xlsx.Close()
}

// typedCell converts a raw cell value using the cell's stored type.
// Only numeric-looking values need the lookup: a string cell holding "123"
// must stay a string and a boolean cell is stored as 1 or 0.
func (w *Workbook) typedCell(sheet string, col, row int, raw string) any {
	value := inferValue(raw)
	if _, isString := value.(string); isString || value == nil {
		return value
	}

	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return value
	}
	cellType, err := w.xlsx.GetCellType(sheet, cell)
	if err != nil {
		return value
	}
	return typedValue(cellType, raw)
}

// xlsxRows adapts excelize's streaming iterator.
type xlsxRows struct {
	path  string
	rows  *excelize.Rows
	types *cellTypeScanner
	row   int
	cur   RawRow
	err   error
}

func (r *xlsxRows) Next() bool {
	if r.err != nil || !r.rows.Next() {
		return false
	}
	r.row++

	cols, err := r.rows.Columns(excelize.Options{RawCellValue: true})
	if err != nil {
		r.err = &DecodeError{Path: r.path, Err: err}
		return false
	}
	types, err := r.types.typesFor(r.row)
	if err != nil {
		r.err = &DecodeError{Path: r.path, Err: err}
		return false
	}

	row := make(RawRow, len(cols))
	for i, value := range cols {
		row[i] = typedValue(types[i+1], value)
	}
	r.cur = row
	return true
}

func (r *xlsxRows) Row() RawRow { return r.cur }

func (r *xlsxRows) Err() error {
	if r.err != nil {
		return r.err
	}
	if err := r.rows.Error(); err != nil {
		return &DecodeError{Path: r.path, Err: err}
	}
	return nil
}

func (r *xlsxRows) Close() error {
	r.types.Close()
	return r.rows.Close()
}

func hasZipSignature(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, len(zipMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, fmt.Errorf("read signature: %w", err)
	}
	return bytes.Equal(head, zipMagic), nil
}
