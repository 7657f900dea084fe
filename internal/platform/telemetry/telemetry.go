// Package telemetry exposes Prometheus metrics for the HTTP surface, the
// connection pool and the room-charge billing engine.
package telemetry

import (
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hms"

// Metrics holds every collector. Methods are safe on a nil *Metrics so
// services can run without instrumentation in tests.
type Metrics struct {
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpInFlight    prometheus.Gauge
	syncLines       *prometheus.CounterVec
	closeOuts       *prometheus.CounterVec
	missingRateDays *prometheus.CounterVec
	opDuration      *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		httpInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		}),
		syncLines: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_charge_lines_total",
			Help:      "Room charge lines touched by invoice syncs, by outcome",
		}, []string{"outcome"}),
		closeOuts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_closeouts_total",
			Help:      "Admissions closed out with billing locked, by status and resulting invoice status",
		}, []string{"status", "invoice_status"}),
		missingRateDays: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_rate_days_total",
			Help:      "Bed-days billed at zero because no tariff was configured",
		}, []string{"room_type"}),
		opDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "billing_operation_duration_seconds",
			Help:      "Duration of billing engine operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "result"}),
	}
}

// Middleware records request counts and latency keyed by route template.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			m.httpInFlight.Inc()
			defer m.httpInFlight.Dec()

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.httpRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// RecordSync counts the line outcomes of one room-charge sync.
func (m *Metrics) RecordSync(inserted, updated, unchanged, pruned int) {
	if m == nil {
		return
	}
	m.syncLines.WithLabelValues("inserted").Add(float64(inserted))
	m.syncLines.WithLabelValues("updated").Add(float64(updated))
	m.syncLines.WithLabelValues("unchanged").Add(float64(unchanged))
	m.syncLines.WithLabelValues("pruned").Add(float64(pruned))
}

func (m *Metrics) RecordCloseOut(status, invoiceStatus string) {
	if m == nil {
		return
	}
	if invoiceStatus == "" {
		invoiceStatus = "none"
	}
	m.closeOuts.WithLabelValues(status, invoiceStatus).Inc()
}

func (m *Metrics) RecordMissingRate(roomType string) {
	if m == nil {
		return
	}
	m.missingRateDays.WithLabelValues(roomType).Inc()
}

// ObserveOperation times an engine operation started at start.
func (m *Metrics) ObserveOperation(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.opDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}

// RegisterPoolStats exports pgx pool statistics as gauges.
func RegisterPoolStats(reg prometheus.Registerer, pool *pgxpool.Pool) {
	f := promauto.With(reg)
	gauge := func(name, help string, fn func(*pgxpool.Stat) float64) {
		f.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "db_pool", Name: name, Help: help},
			func() float64 { return fn(pool.Stat()) })
	}
	gauge("total_conns", "Connections currently in the pool", func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) })
	gauge("idle_conns", "Idle connections", func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) })
	gauge("acquired_conns", "Connections checked out", func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) })
	gauge("max_conns", "Configured pool ceiling", func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) })
}

// Handler serves the exposition format for g.
func Handler(g prometheus.Gatherer) echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
