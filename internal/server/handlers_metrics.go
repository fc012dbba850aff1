package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alextreichler/threadViewer/internal/metrics"
)

// metricsHandler exposes the ingest and cache metrics of the default registry.
func metricsHandler() http.Handler {
	metrics.InitMetrics()
	return promhttp.Handler()
}
