package convert

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"sheet-to-json/common"
	"sheet-to-json/pagination"
	"sheet-to-json/parsers"
)

// StreamBurst is the number of records written between flushes when streaming.
const StreamBurst = 100

// SinglePage is the body returned when the whole result fits in one page.
type SinglePage struct {
	Sheet       string           `json:"sheet"`
	TotalRows   int              `json:"totalRows"`
	HasNextPage bool             `json:"hasNextPage"`
	Data        []parsers.Record `json:"data"`
}

// PagedPage is the body of one page of a larger result.
type PagedPage struct {
	Sheet         string           `json:"sheet"`
	TotalRows     int              `json:"totalRows"`
	BatchSize     int              `json:"batchSize"`
	HasNextPage   bool             `json:"hasNextPage"`
	NextPage      *string          `json:"nextPage"`
	NextPageToken *string          `json:"nextPageToken"`
	Data          []parsers.Record `json:"data"`
}

// PageBody returns the response body for page.
func PageBody(page pagination.Page) any {
	data := page.Records
	if data == nil {
		data = []parsers.Record{}
	}
	if !page.Paginated {
		return SinglePage{
			Sheet:       page.SheetName,
			TotalRows:   page.TotalRows,
			HasNextPage: page.HasNextPage,
			Data:        data,
		}
	}
	return PagedPage{
		Sheet:         page.SheetName,
		TotalRows:     page.TotalRows,
		BatchSize:     page.PageSize,
		HasNextPage:   page.HasNextPage,
		NextPage:      page.NextPage,
		NextPageToken: page.NextPageToken,
		Data:          data,
	}
}

// wantsStream reports whether the response should be streamed. The ?stream=
// query parameter overrides the configured default.
func (h *Handler) wantsStream(c *gin.Context) bool {
	if raw, ok := c.GetQuery("stream"); ok {
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
	}
	return h.responseMode == common.ResponseStreaming
}

// writePage emits page, buffered or streamed.
func (h *Handler) writePage(c *gin.Context, page pagination.Page) {
	c.Set(common.RowsProcessedKey, len(page.Records))

	if !h.wantsStream(c) {
		c.JSON(http.StatusOK, PageBody(page))
		return
	}

	body := PageBody(page)
	switch b := body.(type) {
	case SinglePage:
		b.Data = nil
		body = b
	case PagedPage:
		b.Data = nil
		body = b
	}
	h.streamRecords(c, body, page.Records)
}

// streamRecords writes envelope with its "data" member replaced by records,
// flushing every StreamBurst records and yielding between bursts.
// envelope must marshal to an object whose last member is "data".
func (h *Handler) streamRecords(c *gin.Context, envelope any, records []parsers.Record) {
	prologue, err := streamPrologue(envelope)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "application/json; charset=utf-8")
	c.Status(http.StatusOK)

	var (
		next     int
		started  bool
		writeErr error
	)
	c.Stream(func(w io.Writer) bool {
		if !started {
			started = true
			_, writeErr = w.Write(prologue)
			return writeErr == nil
		}

		end := min(next+StreamBurst, len(records))
		for ; next < end; next++ {
			if next > 0 {
				if _, writeErr = w.Write([]byte{','}); writeErr != nil {
					return false
				}
			}
			b, err := json.Marshal(records[next])
			if err != nil {
				writeErr = err
				return false
			}
			if _, writeErr = w.Write(b); writeErr != nil {
				return false
			}
			streamedRecords.Inc()
		}

		if next >= len(records) {
			_, writeErr = w.Write([]byte("]}"))
			return false
		}
		runtime.Gosched()
		return true
	})

	if writeErr != nil {
		h.logger.Warn().Err(writeErr).Int("written", next).Int("total", len(records)).Msg("stream aborted")
	}
}

// streamPrologue renders envelope up to and including `"data":[`.
func streamPrologue(envelope any) ([]byte, error) {
	b, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	const tail = `"data":null}`
	if !bytes.HasSuffix(b, []byte(tail)) {
		return nil, fmt.Errorf("stream envelope %T must end with a null data member", envelope)
	}
	b = b[:len(b)-len(tail)]
	return append(b, `"data":[`...), nil
}
