package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "moverspay"

// Metrics groups the payment core's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	reconcileOutcomes  *prometheus.CounterVec
	escrowTransitions  *prometheus.CounterVec
	gatewayRequests    *prometheus.HistogramVec
	initiationFailures *prometheus.CounterVec
	sweepRuns          *prometheus.CounterVec
	httpRequests       *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reconcileOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "outcomes_total",
			Help:      "Gateway outcomes processed, by transaction type, outcome and source.",
		}, []string{"type", "outcome", "source"}),
		escrowTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "transitions_total",
			Help:      "Committed escrow status changes.",
		}, []string{"status"}),
		gatewayRequests: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Latency of outbound gateway requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "result"}),
		initiationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "initiation_failures_total",
			Help:      "Payments whose gateway initiation failed.",
		}, []string{"type"}),
		sweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "sweep_runs_total",
			Help:      "Background sweeps of pending transactions.",
		}, []string{"result"}),
		httpRequests: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latencies.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) ReconcileOutcome(txType, outcome, source string) {
	if m == nil {
		return
	}
	m.reconcileOutcomes.WithLabelValues(txType, outcome, source).Inc()
}

func (m *Metrics) EscrowTransition(status string) {
	if m == nil {
		return
	}
	m.escrowTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) GatewayRequest(op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gatewayRequests.WithLabelValues(op, result).Observe(elapsed.Seconds())
}

func (m *Metrics) InitiationFailure(txType string) {
	if m == nil {
		return
	}
	m.initiationFailures.WithLabelValues(txType).Inc()
}

func (m *Metrics) SweepRun(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweepRuns.WithLabelValues(result).Inc()
}

// Middleware records request latency per route template.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			m.httpRequests.WithLabelValues(c.Request().Method, c.Path(), strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler exposes the collectors of g for scraping.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
