package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sckRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sck_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	sckRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sck_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	sckApprovalDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sck_approval_decisions_total",
		Help: "Total approval requests reaching a terminal status.",
	}, []string{"status"})

	sckEnforcementDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sck_enforcement_decisions_total",
		Help: "Total request verification attempts by decision.",
	}, []string{"decision"})

	sckTokensIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sck_tokens_issued_total",
		Help: "Total gateway tokens issued.",
	})

	sckActiveBundleVersion = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sck_active_bundle_version",
		Help: "Currently active policy bundle version per organization.",
	}, []string{"organization"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request
// metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		sckRequestsTotal.WithLabelValues(method, path, status).Inc()
		sckRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordApprovalDecision records a terminal approval status transition.
func RecordApprovalDecision(status string) {
	sckApprovalDecisionsTotal.WithLabelValues(status).Inc()
}

// RecordEnforcementDecision records a verification attempt outcome.
func RecordEnforcementDecision(decision string) {
	sckEnforcementDecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordTokenIssued records a gateway token issuance.
func RecordTokenIssued() {
	sckTokensIssuedTotal.Inc()
}

// SetActiveBundleVersion sets the active bundle version gauge for an
// organization.
func SetActiveBundleVersion(organization string, version int) {
	sckActiveBundleVersion.WithLabelValues(organization).Set(float64(version))
}
