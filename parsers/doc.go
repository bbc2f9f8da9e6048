// Package parsers turns downloaded spreadsheet files into row-oriented records.
//
// Decoding and projection are split so large files never need more than one
// row in flight between the two stages:
//   - Decode opens a workbook (xlsx via excelize, or CSV) and exposes its sheet
//     names and a lazy Rows iterator per sheet
//   - Project consumes a Rows iterator, takes the first row as field names and
//     zips every following row against them
//
// Two decode modes exist. ModeStandard loads the sheet and resolves cell types
// so text cells that look numeric stay strings and boolean cells become bool.
// ModeDense walks the sheet with excelize's streaming iterator and types each
// cell from the worksheet's stored types without loading the sheet; it is the
// mode used for large files. Both modes produce the same values.
//
// Example usage:
//
//	wb, err := parsers.Decode("/tmp/report.xlsx", parsers.ModeStandard)
//	if err != nil {
//	    return err
//	}
//	defer wb.Close()
//
//	sheet, _ := wb.FirstSheet()
//	rows, err := wb.Rows(sheet)
//	if err != nil {
//	    return err
//	}
//	defer rows.Close()
//
//	result, err := parsers.Project(sheet, rows)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(result.TotalRows, result.Records[0].Get("Name"))
package parsers
