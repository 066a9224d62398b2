package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutorchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 5, 30, 120},
		},
		[]string{"method", "route"},
	)

	// Business metrics
	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorchat_messages_persisted_total",
			Help: "Messages written to the store",
		},
		[]string{"role"},
	)

	RelayStreams = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorchat_relay_streams_total",
			Help: "Completion relay streams by outcome",
		},
		[]string{"outcome"}, // ok, fallback, canceled
	)

	RelayChunks = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tutorchat_relay_chunks",
			Help:    "Chunks forwarded per relay stream",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	RelayFirstChunk = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tutorchat_relay_first_chunk_seconds",
			Help:    "Latency until the provider emitted the first chunk",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30},
		},
	)

	TitleGenerations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorchat_title_generations_total",
			Help: "Chat title generations by outcome",
		},
		[]string{"outcome"}, // ok, error
	)
)

// Middleware records request counts and durations keyed by the matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry for scraping.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
