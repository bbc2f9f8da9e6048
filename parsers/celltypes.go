package parsers

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// xmlCellTypes maps the worksheet "t" attribute to excelize cell types.
// A missing attribute means a number.
var xmlCellTypes = map[string]excelize.CellType{
	"b":         excelize.CellTypeBool,
	"d":         excelize.CellTypeDate,
	"n":         excelize.CellTypeNumber,
	"e":         excelize.CellTypeError,
	"s":         excelize.CellTypeSharedString,
	"str":       excelize.CellTypeFormula,
	"inlineStr": excelize.CellTypeInlineString,
}

// typedValue converts a raw cell value according to its stored type.
// Both decode modes go through it so a cell reads the same either way.
func typedValue(cellType excelize.CellType, raw string) any {
	if raw == "" {
		return nil
	}
	switch cellType {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString,
		excelize.CellTypeFormula, excelize.CellTypeError, excelize.CellTypeDate:
		return raw
	case excelize.CellTypeBool:
		return raw == "1"
	default:
		return inferValue(raw)
	}
}

// cellTypeScanner walks a worksheet part and reports the stored type of
// each cell, one row at a time. excelize's streaming iterator only yields
// values, so dense decoding reads the types alongside it.
type cellTypeScanner struct {
	archive *zip.ReadCloser
	part    io.ReadCloser
	dec     *xml.Decoder

	row   int // row number of types
	types map[int]excelize.CellType
	done  bool
	err   error
}

// newCellTypeScanner opens the worksheet part backing sheet in the xlsx at path.
func newCellTypeScanner(filePath, sheet string) (*cellTypeScanner, error) {
	archive, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	partName, err := worksheetPart(&archive.Reader, sheet)
	if err != nil {
		archive.Close()
		return nil, err
	}
	part, err := openPart(&archive.Reader, partName)
	if err != nil {
		archive.Close()
		return nil, err
	}
	return &cellTypeScanner{archive: archive, part: part, dec: xml.NewDecoder(part)}, nil
}

// typesFor returns the cell types of row, keyed by 1-based column.
// Rows must be requested in ascending order.
func (s *cellTypeScanner) typesFor(row int) (map[int]excelize.CellType, error) {
	for !s.done && s.row < row {
		s.scanRow()
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.row == row {
		return s.types, nil
	}
	return nil, nil
}

func (s *cellTypeScanner) scanRow() {
	for {
		tok, err := s.dec.Token()
		if err == io.EOF {
			s.done = true
			return
		}
		if err != nil {
			s.err, s.done = err, true
			return
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "row" {
			continue
		}

		if n, err := strconv.Atoi(attr(start, "r")); err == nil && n > 0 {
			s.row = n
		} else {
			s.row++
		}
		s.types = make(map[int]excelize.CellType)
		s.err = s.scanCells()
		if s.err != nil {
			s.done = true
		}
		return
	}
}

// scanCells reads the cells of the current row up to its end tag.
func (s *cellTypeScanner) scanCells() error {
	col := 0
	for {
		tok, err := s.dec.Token()
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local != "c" {
				continue
			}
			col++
			if ref := attr(el, "r"); ref != "" {
				c, _, err := excelize.CellNameToCoordinates(ref)
				if err != nil {
					return err
				}
				col = c
			}
			if t := attr(el, "t"); t != "" {
				s.types[col] = xmlCellTypes[t]
			}
		case xml.EndElement:
			if el.Name.Local == "row" {
				return nil
			}
		}
	}
}

func (s *cellTypeScanner) Close() error {
	s.part.Close()
	return s.archive.Close()
}

// worksheetPart resolves the zip entry holding sheet through the workbook
// relationships.
func worksheetPart(zr *zip.Reader, sheet string) (string, error) {
	var relID string
	err := walkPart(zr, "xl/workbook.xml", func(el xml.StartElement) bool {
		if el.Name.Local == "sheet" && attr(el, "name") == sheet {
			relID = attr(el, "id")
			return false
		}
		return true
	})
	if err != nil {
		return "", err
	}
	if relID == "" {
		return "", fmt.Errorf("sheet %q not found in workbook", sheet)
	}

	var target string
	err = walkPart(zr, "xl/_rels/workbook.xml.rels", func(el xml.StartElement) bool {
		if el.Name.Local == "Relationship" && attr(el, "Id") == relID {
			target = attr(el, "Target")
			return false
		}
		return true
	})
	if err != nil {
		return "", err
	}
	if target == "" {
		return "", fmt.Errorf("no relationship %s for sheet %q", relID, sheet)
	}
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/"), nil
	}
	return path.Join("xl", target), nil
}

// walkPart calls fn for every start element of the named part until fn returns false.
func walkPart(zr *zip.Reader, name string, fn func(xml.StartElement) bool) error {
	part, err := openPart(zr, name)
	if err != nil {
		return err
	}
	defer part.Close()

	dec := xml.NewDecoder(part)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if el, ok := tok.(xml.StartElement); ok && !fn(el) {
			return nil
		}
	}
}

func openPart(zr *zip.Reader, name string) (io.ReadCloser, error) {
	for _, f := range zr.File {
		if strings.EqualFold(f.Name, name) {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("missing part %s", name)
}

// attr returns the value of the attribute with the given local name.
func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
