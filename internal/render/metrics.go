package render

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK        = "ok"
	outcomeUpstream  = "upstream_error"
	outcomeTransport = "transport_error"
)

var (
	relayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "html2pdf_proxy_render_requests_total",
			Help: "Render backend calls by outcome",
		},
		[]string{"outcome"},
	)

	relayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "html2pdf_proxy_render_duration_seconds",
			Help:    "Latency of render backend calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)

	renderedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "html2pdf_proxy_rendered_bytes_total",
			Help: "PDF bytes received from the render backend",
		},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "html2pdf_proxy_pdf_cache_lookups_total",
			Help: "Rendered PDF cache lookups by result",
		},
		[]string{"result"},
	)
)

func observe(outcome string, start time.Time) {
	relayRequestsTotal.WithLabelValues(outcome).Inc()
	relayDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
