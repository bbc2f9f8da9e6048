package convert

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	conversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheet_conversions_total",
		Help: "Conversions by decode mode and outcome",
	}, []string{"mode", "outcome"}) // outcome: "ok", "error"

	rowsConverted = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sheet_rows_converted",
		Help:    "Records produced per conversion",
		Buckets: prometheus.ExponentialBuckets(10, 4, 8),
	})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheet_result_cache_lookups_total",
		Help: "Result cache lookups by outcome",
	}, []string{"outcome"}) // "hit", "miss"

	streamedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sheet_streamed_records_total",
		Help: "Records written by the streaming emitter",
	})
)
