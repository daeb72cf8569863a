package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notes_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	// Store metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notes_store_operation_duration_seconds",
			Help:    "Duration of note store operations",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	StoreChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_store_changes_total",
			Help: "Committed note writes published to watchers",
		},
		[]string{"kind"},
	)

	// Screen metrics
	IntentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_screen_intents_total",
			Help: "Intents dispatched to screen state machines",
		},
		[]string{"screen", "intent"},
	)

	EffectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_screen_effects_total",
			Help: "Effects emitted by screen state machines, by delivery outcome",
		},
		[]string{"screen", "outcome"},
	)

	ActiveScreens = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notes_active_screens",
			Help: "Open screen sessions",
		},
		[]string{"screen"},
	)

	ExpiredScreensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_expired_screens_total",
			Help: "Screen sessions closed after sitting idle",
		},
		[]string{"screen"},
	)
)

// Middleware records request counts and latencies per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// TrackStoreOperation starts a timer for a store operation; call ObserveDuration when done.
func TrackStoreOperation(operation string) *prometheus.Timer {
	return prometheus.NewTimer(StoreOperationDuration.WithLabelValues(operation))
}

// TrackStoreChange counts a committed write by kind.
func TrackStoreChange(kind string) {
	StoreChangesTotal.WithLabelValues(kind).Inc()
}

// TrackIntent counts an intent dispatched to a screen.
func TrackIntent(screen, intent string) {
	IntentsTotal.WithLabelValues(screen, intent).Inc()
}

// TrackEffect counts an effect emission and whether it reached an observer.
func TrackEffect(screen, outcome string) {
	EffectsTotal.WithLabelValues(screen, outcome).Inc()
}
