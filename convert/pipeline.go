// Package convert wires the fetch, decode and pagination stages into the
// HTTP conversion endpoints.
package convert

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sheet-to-json/fetch"
	"sheet-to-json/parsers"
)

// LargeFileThreshold is the download size above which a conversion is handed
// to a background job instead of answered inline.
const LargeFileThreshold int64 = 5 << 20

// ModeForSize picks the decode mode for a downloaded file. Large files are
// read with the streaming row iterator to keep memory flat.
func ModeForSize(size int64) parsers.Mode {
	if size > LargeFileThreshold {
		return parsers.ModeDense
	}
	return parsers.ModeStandard
}

// ConvertFile decodes the first sheet of the spreadsheet at path into records.
func ConvertFile(path string, mode parsers.Mode) (*parsers.ConversionResult, error) {
	result, err := convertFile(path, mode)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	} else {
		rowsConverted.Observe(float64(result.TotalRows))
	}
	conversionsTotal.WithLabelValues(string(mode), outcome).Inc()
	return result, err
}

func convertFile(path string, mode parsers.Mode) (*parsers.ConversionResult, error) {
	wb, err := parsers.Decode(path, mode)
	if err != nil {
		return nil, &ProcessingError{Stage: "decode", Err: err}
	}
	defer wb.Close()

	sheet, err := wb.FirstSheet()
	if err != nil {
		return nil, &ProcessingError{Stage: "decode", Err: err}
	}

	rows, err := wb.Rows(sheet)
	if err != nil {
		return nil, &ProcessingError{Stage: "decode", Err: err}
	}
	defer rows.Close()

	result, err := parsers.Project(sheet, rows)
	if err != nil {
		return nil, &ProcessingError{Stage: "project", Err: err}
	}
	return result, nil
}

// Converter downloads remote spreadsheets and converts them.
type Converter struct {
	fetcher *fetch.Fetcher
	logger  zerolog.Logger
}

// NewConverter creates a Converter using fetcher for downloads.
func NewConverter(fetcher *fetch.Fetcher) *Converter {
	return &Converter{
		fetcher: fetcher,
		logger:  log.With().Str("component", "convert").Logger(),
	}
}

// Download fetches rawURL into a temp file owned by the caller.
func (c *Converter) Download(ctx context.Context, rawURL string) (*fetch.TempFile, error) {
	return c.fetcher.Download(ctx, rawURL)
}

// Convert downloads rawURL and converts it, choosing the decode mode from
// the file size. The temp file is removed before Convert returns.
func (c *Converter) Convert(ctx context.Context, rawURL string) (*parsers.ConversionResult, error) {
	var result *parsers.ConversionResult
	err := c.fetcher.WithTempFile(ctx, rawURL, func(tmp *fetch.TempFile) error {
		start := time.Now()
		mode := ModeForSize(tmp.Size)

		var err error
		result, err = ConvertFile(tmp.Path, mode)
		if err != nil {
			return err
		}
		c.logger.Debug().
			Str("sheet", result.SheetName).
			Int("total_rows", result.TotalRows).
			Str("mode", string(mode)).
			Dur("duration", time.Since(start)).
			Msg("conversion complete")
		return nil
	})
	return result, err
}
