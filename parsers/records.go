package parsers

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// RawRow is one decoded row. Cells are string, int64, float64, bool or nil
// for an absent cell.
type RawRow []any

// Header maps sheet columns to record fields.
// Repeated names share one field; the later column wins on projection.
// Columns past the header row are named like blank headers, so a header
// widens as wider data rows are projected.
type Header struct {
	names []string
	index map[string]int
	slots []int // column -> field slot
}

// NewHeader builds a Header from the first row of a sheet.
// A blank or missing name at column i becomes "Column{i+1}".
func NewHeader(row RawRow) *Header {
	h := &Header{
		index: make(map[string]int, len(row)),
		slots: make([]int, 0, len(row)),
	}
	for i, cell := range row {
		name := cellString(cell)
		if strings.TrimSpace(name) == "" {
			name = fallbackName(i)
		}
		h.slots = append(h.slots, h.slot(name))
	}
	return h
}

func fallbackName(col int) string {
	return "Column" + strconv.Itoa(col+1)
}

func (h *Header) slot(name string) int {
	slot, ok := h.index[name]
	if !ok {
		slot = len(h.names)
		h.names = append(h.names, name)
		h.index[name] = slot
	}
	return slot
}

// Project zips a data row against the header, widening the header when the
// row has values past its last column. Missing cells stay nil.
// Project must not run concurrently with itself or with reads of records
// built on the same header.
func (h *Header) Project(row RawRow) Record {
	width := len(row)
	for width > 0 && row[width-1] == nil {
		width--
	}
	for col := len(h.slots); col < width; col++ {
		h.slots = append(h.slots, h.slot(fallbackName(col)))
	}

	values := make([]any, len(h.names))
	for i, cell := range row[:width] {
		if cell != nil {
			values[h.slots[i]] = cell
		}
	}
	return Record{header: h, values: values}
}

// Record is one data row keyed by header names.
// It marshals to a JSON object whose keys follow header order. Fields added
// to the header after the record was projected read as nil.
type Record struct {
	header *Header
	values []any
}

func (r Record) value(slot int) any {
	if slot < len(r.values) {
		return r.values[slot]
	}
	return nil
}

// Get returns the value stored under name.
func (r Record) Get(name string) (any, bool) {
	if r.header == nil {
		return nil, false
	}
	slot, ok := r.header.index[name]
	if !ok {
		return nil, false
	}
	return r.value(slot), true
}

// Len returns the number of fields in the record.
func (r Record) Len() int {
	return len(r.Fields())
}

// Fields returns the field names in order.
func (r Record) Fields() []string {
	if r.header == nil {
		return nil
	}
	return r.header.names
}

// Map copies the record into a plain map.
func (r Record) Map() map[string]any {
	fields := r.Fields()
	m := make(map[string]any, len(fields))
	for i, name := range fields {
		m[name] = r.value(i)
	}
	return m
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.Fields() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.value(i))
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ConversionResult is the projected content of one sheet.
// It is never modified after Project returns it.
type ConversionResult struct {
	SheetName string
	TotalRows int
	Records   []Record
}

// Project reads the header row and every data row from rows.
// Leading blank rows are skipped, so the header is the first row holding a
// value. Blank data rows are skipped too. At least one data row is required.
func Project(sheetName string, rows Rows) (*ConversionResult, error) {
	var (
		header  *Header
		records []Record
		read    int
	)
	for rows.Next() {
		read++
		row := rows.Row()
		if isBlankRow(row) {
			continue
		}
		if header == nil {
			header = NewHeader(row)
			continue
		}
		records = append(records, header.Project(row))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, &InsufficientDataError{Rows: read}
	}

	return &ConversionResult{
		SheetName: sheetName,
		TotalRows: len(records),
		Records:   records,
	}, nil
}

func isBlankRow(row RawRow) bool {
	for _, cell := range row {
		if cell == nil {
			continue
		}
		if s, ok := cell.(string); ok && s == "" {
			continue
		}
		return false
	}
	return true
}

// cellString renders a cell the way it would appear as a header name.
func cellString(cell any) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(v)
	}
}
