// Package pagination slices a conversion result into offset-addressed pages.
//
// A page carries the total row count, whether more rows follow and, when they
// do, a continuation token (the next offset as a decimal string) plus a link
// the client can call verbatim to fetch the next page.
package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"sheet-to-json/parsers"
)

// PageSize is the number of records returned per page.
const PageSize = 500

// ErrInvalidOffset is returned by ParseOffset for malformed offsets.
var ErrInvalidOffset = errors.New("offset must be a non-negative integer")

// Page is one slice of a ConversionResult.
type Page struct {
	SheetName   string
	TotalRows   int
	PageSize    int
	Offset      int
	HasNextPage bool
	// Paginated is false when the whole result fits in the first page.
	Paginated     bool
	NextPageToken *string
	NextPage      *string
	Records       []parsers.Record
}

// Linker renders the URL that fetches the page starting at offset.
type Linker interface {
	Link(offset int) string
}

// LinkerFunc adapts a function to Linker.
type LinkerFunc func(offset int) string

// Link implements Linker.
func (f LinkerFunc) Link(offset int) string { return f(offset) }

// ConvertLinker links back to GET /convert for the given source file.
func ConvertLinker(fileURL string) Linker {
	return LinkerFunc(func(offset int) string {
		q := url.Values{}
		q.Set("fileUrl", fileURL)
		q.Set("offset", strconv.Itoa(offset))
		return "/convert?" + q.Encode()
	})
}

// ResultLinker links to GET /result/:jobId.
func ResultLinker(jobID string) Linker {
	return LinkerFunc(func(offset int) string {
		return fmt.Sprintf("/result/%s?offset=%d", url.PathEscape(jobID), offset)
	})
}

// Paginate returns the page of result starting at offset.
// The returned records share memory with result; callers must not modify them.
func Paginate(result *parsers.ConversionResult, offset, pageSize int, linker Linker) Page {
	if pageSize <= 0 {
		pageSize = PageSize
	}
	if offset < 0 {
		offset = 0
	}

	total := result.TotalRows
	page := Page{
		SheetName: result.SheetName,
		TotalRows: total,
		PageSize:  pageSize,
		Offset:    offset,
	}

	// Whole result fits: no token the client would never need.
	if offset == 0 && total <= pageSize {
		page.Records = result.Records
		return page
	}

	page.Paginated = true
	if offset < total {
		end := min(offset+pageSize, total)
		page.Records = result.Records[offset:end]
	} else {
		page.Records = []parsers.Record{}
	}

	next := offset + pageSize
	if next < total {
		page.HasNextPage = true
		token := strconv.Itoa(next)
		page.NextPageToken = &token
		if linker != nil {
			link := linker.Link(next)
			page.NextPage = &link
		}
	}
	return page
}

// ParseOffset parses the offset query parameter. An empty value means 0.
func ParseOffset(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(raw)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, raw)
	}
	return offset, nil
}
