package convert

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"sheet-to-json/fetch"
	"sheet-to-json/jobs"
	"sheet-to-json/pagination"
	"sheet-to-json/parsers"
)

// ProcessingError wraps a failure in one stage of the conversion pipeline.
type ProcessingError struct {
	Stage string // "decode", "project"
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// statusFor maps a pipeline error to its HTTP status and summary.
func statusFor(err error) (int, string) {
	var (
		fetchErr     *fetch.FetchError
		insufficient *parsers.InsufficientDataError
		decodeErr    *parsers.DecodeError
		procErr      *ProcessingError
	)

	switch {
	case errors.Is(err, fetch.ErrMissingURL), errors.Is(err, fetch.ErrInvalidURL):
		return http.StatusBadRequest, "A valid fileUrl must be provided"
	case errors.Is(err, pagination.ErrInvalidOffset):
		return http.StatusBadRequest, "Invalid offset"
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound, "Job not found"
	case errors.As(err, &insufficient):
		return http.StatusBadRequest, "The sheet has no data rows"
	case errors.As(err, &fetchErr):
		return http.StatusInternalServerError, "Error downloading file"
	case errors.As(err, &decodeErr), errors.As(err, &procErr):
		return http.StatusInternalServerError, "Error processing file"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// respondError writes err as {error, details} and records it on the context.
func respondError(c *gin.Context, err error) {
	status, summary := statusFor(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: summary, Details: err.Error()})
}
