package service

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	exportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_exporter_exports_total",
		Help: "Finished batch exports by outcome.",
	}, []string{"outcome"})
	chunksWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "batch_exporter_chunks_written_total",
		Help: "Chunks appended to export destinations.",
	})
	rowsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "batch_exporter_rows_written_total",
		Help: "Data rows appended to export destinations.",
	})
	exportDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "batch_exporter_export_duration_seconds",
		Help:    "Wall time of batch exports, successful or not.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	})
)

// RegisterMetrics registers the exporter collectors with reg. Call it once.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(exportsTotal, chunksWritten, rowsWritten, exportDuration)
}

func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
