// Package metrics exposes Prometheus collectors for the ingest pipeline, the
// alert lifecycle and the HTTP API on a dedicated registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forgewatch/forgewatch/pkg/types"
)

const namespace = "forgewatch"

// Metrics owns the collectors and the registry they are registered on.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	samples      *prometheus.CounterVec
	oee          *prometheus.GaugeVec
	idle         *prometheus.GaugeVec
	alertsFired  *prometheus.CounterVec
	activeAlerts prometheus.Gauge
	saveErrors   prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Machine samples received, by machine and outcome (applied, duplicate, rejected).",
		}, []string{"machine", "outcome"}),
		oee: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "machine_oee_percent",
			Help:      "Latest computed OEE per machine.",
		}, []string{"machine"}),
		idle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "machine_idle",
			Help:      "1 when the machine is debounced idle, else 0.",
		}, []string{"machine"}),
		alertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_fired_total",
			Help:      "Alerts fired, by rule type and severity.",
		}, []string{"type", "severity"}),
		activeAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alerts_active",
			Help:      "Number of currently active alerts.",
		}),
		saveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Readings that failed to persist.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.samples,
		m.oee,
		m.idle,
		m.alertsFired,
		m.activeAlerts,
		m.saveErrors,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SampleApplied records an applied sample and its latest derived values.
func (m *Metrics) SampleApplied(machineID string, d types.DerivedMetrics, idle bool) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues(machineID, "applied").Inc()
	m.oee.WithLabelValues(machineID).Set(d.OEE)
	v := 0.0
	if idle {
		v = 1
	}
	m.idle.WithLabelValues(machineID).Set(v)
}

// SampleDuplicate records a sample dropped as a duplicate.
func (m *Metrics) SampleDuplicate(machineID string) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues(machineID, "duplicate").Inc()
}

// SampleRejected records a sample that failed validation.
func (m *Metrics) SampleRejected(machineID string) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues(machineID, "rejected").Inc()
}

// AlertFired counts a newly fired alert.
func (m *Metrics) AlertFired(a types.Alert) {
	if m == nil {
		return
	}
	m.alertsFired.WithLabelValues(a.Type, string(a.Severity)).Inc()
}

// ActiveAlerts sets the active alert gauge.
func (m *Metrics) ActiveAlerts(n int) {
	if m == nil {
		return
	}
	m.activeAlerts.Set(float64(n))
}

// SaveFailed counts a failed persistence write.
func (m *Metrics) SaveFailed() {
	if m == nil {
		return
	}
	m.saveErrors.Inc()
}

// MachineGone drops the per-machine series of an evicted machine.
func (m *Metrics) MachineGone(machineID string) {
	if m == nil {
		return
	}
	m.oee.DeleteLabelValues(machineID)
	m.idle.DeleteLabelValues(machineID)
}

// Middleware records request count and latency per mux route template, so
// path parameters do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}
