package parsers

import (
	"errors"
	"fmt"
)

// ErrNoSheets indicates the workbook does not contain any sheet.
var ErrNoSheets = errors.New("no sheets")

// DecodeError represents a failure to open or read a spreadsheet file.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("decode spreadsheet: %v", e.Err)
	}
	return fmt.Sprintf("decode spreadsheet %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// InsufficientDataError is returned when a sheet has no data row below its header.
type InsufficientDataError struct {
	// Rows is the number of rows read, header included.
	Rows int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: a header row and at least one data row are required, got %d row(s)", e.Rows)
}
