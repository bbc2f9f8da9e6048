package parsers

import (
	"math"
	"strconv"
	"strings"
)

// Rows is a lazy sequence of decoded rows.
//
//	for rows.Next() {
//	    row := rows.Row()
//	}
//	if err := rows.Err(); err != nil { ... }
type Rows interface {
	// Next advances to the next row. It returns false at the end or on error.
	Next() bool
	// Row returns the current row.
	Row() RawRow
	// Err returns the error that stopped iteration, if any.
	Err() error
	// Close releases resources held by the iterator.
	Close() error
}

type sliceRows struct {
	rows []RawRow
	pos  int
}

// NewSliceRows wraps already-decoded rows in a Rows iterator.
func NewSliceRows(rows []RawRow) Rows {
	return &sliceRows{rows: rows, pos: -1}
}

func (s *sliceRows) Next() bool {
	if s.pos+1 >= len(s.rows) {
		s.pos = len(s.rows)
		return false
	}
	s.pos++
	return true
}

func (s *sliceRows) Row() RawRow {
	if s.pos < 0 || s.pos >= len(s.rows) {
		return nil
	}
	return s.rows[s.pos]
}

func (s *sliceRows) Err() error   { return nil }
func (s *sliceRows) Close() error { return nil }

// inferValue parses a raw cell as int64 or float64 when it is numeric.
// Empty cells become nil; anything else is returned unchanged.
func inferValue(s string) any {
	if s == "" {
		return nil
	}
	if !looksNumeric(s) {
		return s
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	return s
}

// looksNumeric rejects strings ParseFloat would accept but a sheet never
// stores as a number, such as "NaN", "Inf" or hex floats, and codes with
// leading zeros like "00123".
func looksNumeric(s string) bool {
	if strings.Trim(s, "0123456789+-.eE") != "" || !strings.ContainsAny(s, "0123456789") {
		return false
	}
	digits := strings.TrimLeft(s, "+-")
	return !(len(digits) > 1 && digits[0] == '0' && digits[1] >= '0' && digits[1] <= '9')
}
