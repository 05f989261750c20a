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
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caseledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "caseledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ledgerWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caseledger_ledger_writes_total",
		Help: "Ledger writes by kind and result.",
	}, []string{"kind", "result"})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caseledger_verifications_total",
		Help: "Verifications by result.",
	}, []string{"result"})

	allocationConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caseledger_allocation_conflicts_total",
		Help: "Writes abandoned after exhausting transaction retries.",
	})

	grantsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caseledger_grants_total",
		Help: "Audit grants issued.",
	})

	dependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "caseledger_dependency_up",
		Help: "1 if the last probe of a dependency succeeded.",
	}, []string{"dependency"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		requestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// PrometheusRecorder reports coordinator events to Prometheus.
type PrometheusRecorder struct{}

// LedgerWrite counts a ledger write of the given kind.
func (PrometheusRecorder) LedgerWrite(kind string, err error) {
	ledgerWritesTotal.WithLabelValues(kind, result(err == nil)).Inc()
}

// Verification counts a verification outcome.
func (PrometheusRecorder) Verification(verified bool) {
	if verified {
		verificationsTotal.WithLabelValues("verified").Inc()
		return
	}
	verificationsTotal.WithLabelValues("mismatch").Inc()
}

func (PrometheusRecorder) AllocationConflict() { allocationConflictsTotal.Inc() }

func (PrometheusRecorder) GrantCreated() { grantsTotal.Inc() }

// RecordDependencyProbe sets the up gauge for a dependency probe.
func RecordDependencyProbe(name string, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	dependencyUp.WithLabelValues(name).Set(v)
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
