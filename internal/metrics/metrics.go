// Package metrics exposes Prometheus collectors for the gate on a private
// registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zkpoh"

// Metrics implements prover.Observer, gate.Observer and ledger.Observer.
type Metrics struct {
	reg *prometheus.Registry

	puzzles       prometheus.Counter
	proofs        *prometheus.CounterVec
	proveDuration *prometheus.HistogramVec
	verifications *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	ledgerOps     *prometheus.CounterVec
	requests      *prometheus.CounterVec
	reqDuration   *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		puzzles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "puzzles_generated_total",
			Help:      "Puzzles generated.",
		}),
		proofs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prover",
			Name:      "proofs_total",
			Help:      "Proof requests by outcome.",
		}, []string{"outcome"}),
		proveDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "prover",
			Name:      "prove_duration_seconds",
			Help:      "Time spent producing or rejecting a proof.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"outcome"}),
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verifier",
			Name:      "verifications_total",
			Help:      "Server-side proof verifications by outcome.",
		}, []string{"outcome"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Access decisions by outcome.",
		}, []string{"outcome"}),
		ledgerOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger gateway operations.",
		}, []string{"op", "outcome"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests.",
		}, []string{"method", "route", "status"}),
		reqDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) PuzzleGenerated() { m.puzzles.Inc() }

func (m *Metrics) ObserveProof(outcome string, d time.Duration) {
	m.proofs.WithLabelValues(outcome).Inc()
	m.proveDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveVerification(outcome string) {
	m.verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveDecision(outcome string) {
	m.decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveLedger(op, outcome string) {
	m.ledgerOps.WithLabelValues(op, outcome).Inc()
}

// Middleware records request counts and latency labelled by chi route
// pattern, so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.reqDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
