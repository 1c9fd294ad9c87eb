// Package metrics holds the Prometheus collectors for refresh cycles and
// the HTTP surface. They are registered on the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkcal_refresh_total",
			Help: "Refresh cycles by result (ok, fetch_error, agenda_error, render_error, display_error)",
		},
		[]string{"result"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inkcal_stage_duration_seconds",
			Help:    "Duration of each refresh stage in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	FetchFromCache = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkcal_fetch_cache_hits_total",
			Help: "Fetches answered from the on-disk cache (304 or upstream failure)",
		},
	)

	EventsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkcal_events_total",
			Help: "Events in the last parsed calendar",
		},
	)

	EventsUpcoming = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkcal_events_upcoming",
			Help: "Events starting after the last refresh",
		},
	)

	LastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkcal_last_success_timestamp_seconds",
			Help: "Unix time of the last refresh that reached the display",
		},
	)

	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkcal_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
)

// Refresh results.
const (
	ResultOK           = "ok"
	ResultFetchError   = "fetch_error"
	ResultAgendaError  = "agenda_error"
	ResultRenderError  = "render_error"
	ResultDisplayError = "display_error"
)

// Stage names for StageDuration.
const (
	StageFetch   = "fetch"
	StageAgenda  = "agenda"
	StageCapture = "capture"
	StageConvert = "convert"
	StageDisplay = "display"
)
