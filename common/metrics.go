package common

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

const (
	// RequestIDKey is the gin context key holding the request id.
	RequestIDKey = "request_id"
	// RowsProcessedKey is set by handlers to report how many records they returned.
	RowsProcessedKey = "rows_processed"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheet_http_requests_total",
		Help: "Total HTTP requests by route and status",
	}, []string{"route", "method", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sheet_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds by route",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"route"})
)

// MetricsMiddleware tracks API performance metrics
func MetricsMiddleware(db *gorm.DB) gin.HandlerFunc {
	logger := NewLogger("http")

	return func(c *gin.Context) {
		// Generate request ID for tracing
		requestID := uuid.New().String()
		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		startTime := time.Now()

		c.Next()

		duration := time.Since(startTime)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())

		// Get rows processed (if set by handler)
		rowsProcessed := c.GetInt(RowsProcessedKey)

		errors := ""
		if len(c.Errors) > 0 {
			errors = c.Errors.String()
		}

		event := logger.Info()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}
		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Int("rows", rowsProcessed).
			Msg("request handled")

		if db == nil || route == "/metrics" {
			return
		}

		metric := ApiMetric{
			RequestID:     requestID,
			Endpoint:      route,
			Method:        c.Request.Method,
			StatusCode:    status,
			DurationMs:    int(duration.Milliseconds()),
			RowsProcessed: rowsProcessed,
			Errors:        errors,
			Timestamp:     startTime,
		}

		// Save metric asynchronously
		go func() {
			if err := db.Create(&metric).Error; err != nil {
				logger.Debug().Err(err).Msg("failed to persist api metric")
			}
		}()
	}
}
