package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "driftguard"

// Collector holds the engine metric vectors on a private registry.
type Collector struct {
	registry *prometheus.Registry

	Plans             *prometheus.CounterVec
	PlannedChanges    *prometheus.CounterVec
	Applies           *prometheus.CounterVec
	Statements        *prometheus.CounterVec
	PreflightQueries  *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	HTTPRequests      *prometheus.CounterVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		Plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_total",
			Help:      "Plans computed, by outcome (created, bootstrap_required, failed).",
		}, []string{"outcome"}),
		PlannedChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "planned_changes_total",
			Help:      "Changes emitted by plans, by risk level.",
		}, []string{"level"}),
		Applies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "applies_total",
			Help:      "Apply calls by mode and terminal state.",
		}, []string{"mode", "state"}),
		Statements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statements_total",
			Help:      "Executed statements by mode and outcome.",
		}, []string{"mode", "outcome"}),
		PreflightQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preflight_queries_total",
			Help:      "Preflight queries by outcome.",
		}, []string{"outcome"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(c.Plans, c.PlannedChanges, c.Applies, c.Statements, c.PreflightQueries, c.OperationDuration, c.HTTPRequests)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Observe records the latency of an operation started at start.
func (c *Collector) Observe(operation string, start time.Time) {
	if c == nil {
		return
	}
	c.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
