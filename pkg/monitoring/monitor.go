package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// 业务指标
	AttemptSubmissions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assessment_attempt_submissions_total",
			Help: "Total number of successfully submitted attempts",
		},
	)

	TranscriptionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assessment_transcription_failures_total",
			Help: "Total number of transcription service failures during grading",
		},
	)

	AccessUnlocks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assessment_access_unlocks_total",
			Help: "Total number of levels or modules unlocked by mastery",
		},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(AttemptSubmissions)
	prometheus.MustRegister(TranscriptionFailures)
	prometheus.MustRegister(AccessUnlocks)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
