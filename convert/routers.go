package convert

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sheet-to-json/common"
	"sheet-to-json/fetch"
	"sheet-to-json/jobs"
	"sheet-to-json/pagination"
	"sheet-to-json/parsers"
)

const (
	// AcceptedMessage is returned when a conversion is handed to a background job.
	AcceptedMessage = "File is being processed. Check back in 10 seconds."
	// ProcessingMessage is returned while a job is still pending.
	ProcessingMessage = "File is still being processed. Check back in 10 seconds."

	defaultJobsLimit = 50
	maxJobsLimit     = 500
)

// ConvertRequest is the body of POST /convert.
type ConvertRequest struct {
	FileURL string `json:"fileUrl"`
}

// AcceptedResponse is returned when a background job was created.
type AcceptedResponse struct {
	Message string `json:"message"`
	JobID   string `json:"jobId"`
}

// ProcessingResponse is returned for a pending job.
type ProcessingResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Converter *Converter
	Registry  *jobs.Registry
	Runner    *jobs.Runner
	Cache     *ResultCache
	// Store backs GET /jobs; may be nil.
	Store *common.JobStore
	// ConvertMode is one of common.ModeSync, common.ModeAsync or common.ModeAuto.
	ConvertMode string
	// ResponseMode is common.ResponseBuffered or common.ResponseStreaming.
	ResponseMode string
	// PageSize defaults to pagination.PageSize.
	PageSize int
}

// Handler serves the conversion endpoints.
type Handler struct {
	converter    *Converter
	registry     *jobs.Registry
	runner       *jobs.Runner
	cache        *ResultCache
	store        *common.JobStore
	convertMode  string
	responseMode string
	pageSize     int
	logger       zerolog.Logger
}

// NewHandler creates a Handler.
func NewHandler(deps Deps) *Handler {
	if deps.Cache == nil {
		deps.Cache = NewResultCache(0)
	}
	if deps.ConvertMode == "" {
		deps.ConvertMode = common.ModeAuto
	}
	if deps.ResponseMode == "" {
		deps.ResponseMode = common.ResponseBuffered
	}
	if deps.PageSize <= 0 {
		deps.PageSize = pagination.PageSize
	}
	return &Handler{
		converter:    deps.Converter,
		registry:     deps.Registry,
		runner:       deps.Runner,
		cache:        deps.Cache,
		store:        deps.Store,
		convertMode:  deps.ConvertMode,
		responseMode: deps.ResponseMode,
		pageSize:     deps.PageSize,
		logger:       log.With().Str("component", "handler").Logger(),
	}
}

// RegisterRoutes mounts the conversion endpoints on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/convert", h.CreateConversion)
	r.GET("/convert", h.GetConversionPage)
	r.GET("/result/:jobId", h.GetResult)
	r.GET("/result/:jobId/stream", h.StreamResult)
	r.GET("/jobs", h.ListJobs)
}

// CreateConversion handles POST /convert.
//
// Depending on the convert mode the file is converted inline and its first
// page returned, or a background job is created and its id returned. In auto
// mode the file is downloaded first and the decision is made on its size.
func (h *Handler) CreateConversion(c *gin.Context) {
	var req ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Details: err.Error()})
		return
	}
	if _, err := fetch.ValidateURL(req.FileURL); err != nil {
		respondError(c, err)
		return
	}
	fileURL := req.FileURL

	// A started fetch is never aborted by the client going away.
	ctx := context.WithoutCancel(c.Request.Context())

	switch h.convertMode {
	case common.ModeAsync:
		job := h.registry.Create(fileURL)
		h.runner.Submit(job, func(ctx context.Context) (*parsers.ConversionResult, error) {
			return h.converter.Convert(ctx, fileURL)
		})
		h.accepted(c, job)

	case common.ModeSync:
		result, err := h.cache.Load(ctx, fileURL, h.converter.Convert)
		if err != nil {
			respondError(c, err)
			return
		}
		h.writePage(c, pagination.Paginate(result, 0, h.pageSize, pagination.ConvertLinker(fileURL)))

	default:
		h.createAuto(c, ctx, fileURL)
	}
}

func (h *Handler) createAuto(c *gin.Context, ctx context.Context, fileURL string) {
	if result, ok := h.cache.Get(fileURL); ok {
		h.writePage(c, pagination.Paginate(result, 0, h.pageSize, pagination.ConvertLinker(fileURL)))
		return
	}

	tmp, err := h.converter.Download(ctx, fileURL)
	if err != nil {
		respondError(c, err)
		return
	}
	cleanup := func() {
		if err := tmp.Remove(); err != nil {
			h.logger.Warn().Err(err).Str("path", tmp.Path).Msg("failed to remove temp file")
		}
	}

	if tmp.Size > LargeFileThreshold {
		job := h.registry.Create(fileURL)
		h.runner.SubmitWithCleanup(job, func(ctx context.Context) (*parsers.ConversionResult, error) {
			return ConvertFile(tmp.Path, parsers.ModeDense)
		}, cleanup)
		h.logger.Info().Str("job_id", job.ID).Int64("bytes", tmp.Size).Msg("large file handed to background job")
		h.accepted(c, job)
		return
	}

	defer cleanup()
	result, err := ConvertFile(tmp.Path, parsers.ModeStandard)
	if err != nil {
		respondError(c, err)
		return
	}
	h.cache.Put(fileURL, result)
	h.writePage(c, pagination.Paginate(result, 0, h.pageSize, pagination.ConvertLinker(fileURL)))
}

func (h *Handler) accepted(c *gin.Context, job jobs.Job) {
	c.JSON(http.StatusOK, AcceptedResponse{Message: AcceptedMessage, JobID: job.ID})
}

// GetConversionPage handles GET /convert?fileUrl=...&offset=N. The file is
// converted again unless a cached result is still live.
func (h *Handler) GetConversionPage(c *gin.Context) {
	fileURL := c.Query("fileUrl")
	if _, err := fetch.ValidateURL(fileURL); err != nil {
		respondError(c, err)
		return
	}
	offset, err := pagination.ParseOffset(c.Query("offset"))
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	result, err := h.cache.Load(ctx, fileURL, h.converter.Convert)
	if err != nil {
		respondError(c, err)
		return
	}
	h.writePage(c, pagination.Paginate(result, offset, h.pageSize, pagination.ConvertLinker(fileURL)))
}

// readyJob looks up jobId and writes the not-found, processing or failure
// response itself. It returns false when the job has no result to serve.
func (h *Handler) readyJob(c *gin.Context) (jobs.Job, bool) {
	job, err := h.registry.Get(c.Param("jobId"))
	if err != nil {
		respondError(c, err)
		return jobs.Job{}, false
	}

	switch job.State {
	case jobs.StatePending:
		c.JSON(http.StatusOK, ProcessingResponse{Status: "processing", Message: ProcessingMessage})
		return job, false
	case jobs.StateFailed:
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "Error processing file", Details: job.Error})
		return job, false
	}
	return job, true
}

// GetResult handles GET /result/:jobId?offset=N.
func (h *Handler) GetResult(c *gin.Context) {
	job, ok := h.readyJob(c)
	if !ok {
		return
	}
	offset, err := pagination.ParseOffset(c.Query("offset"))
	if err != nil {
		respondError(c, err)
		return
	}
	h.writePage(c, pagination.Paginate(job.Result, offset, h.pageSize, pagination.ResultLinker(job.ID)))
}

// StreamResult handles GET /result/:jobId/stream and streams every record of
// a finished job in one response.
func (h *Handler) StreamResult(c *gin.Context) {
	job, ok := h.readyJob(c)
	if !ok {
		return
	}
	c.Set(common.RowsProcessedKey, len(job.Result.Records))
	h.streamRecords(c, SinglePage{
		Sheet:     job.Result.SheetName,
		TotalRows: job.Result.TotalRows,
	}, job.Result.Records)
}

// ListJobs handles GET /jobs?limit=N with the most recent job audit rows.
func (h *Handler) ListJobs(c *gin.Context) {
	limit := defaultJobsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid limit", Details: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxJobsLimit)
	}

	var rows []common.ConversionJob
	if h.store != nil {
		var err error
		if rows, err = h.store.Recent(limit); err != nil {
			respondError(c, err)
			return
		}
	}
	if rows == nil {
		rows = []common.ConversionJob{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": rows})
}
