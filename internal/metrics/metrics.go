package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/silveridc/verigate/internal/api/middleware"
)

const namespace = "verigate"

// Metrics holds the Prometheus collectors for the gateway: HTTP traffic plus
// ticket lifecycle counters.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	ticketsCreated   prometheus.Counter
	ticketsVerified  prometheus.Counter
	consumeResults   *prometheus.CounterVec
	challengeResults *prometheus.CounterVec
	cleanupDeleted   prometheus.Counter
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "path", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ticketsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_created_total",
			Help:      "Total number of verification tickets created",
		}),

		ticketsVerified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_verified_total",
			Help:      "Total number of tickets that passed the challenge",
		}),

		consumeResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "code_consume_total",
				Help:      "Code consumption attempts by result",
			},
			[]string{"result"},
		),

		challengeResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "challenge_verifications_total",
				Help:      "Challenge provider verification calls by result",
			},
			[]string{"result"},
		),

		cleanupDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_deleted_total",
			Help:      "Total number of expired tickets removed by cleanup",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.ticketsCreated,
		m.ticketsVerified,
		m.consumeResults,
		m.challengeResults,
		m.cleanupDeleted,
	)
	return m
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records per-request counters and latency, labelled by the chi
// route pattern so path cardinality stays bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := mw.NewStatusRecorder(w)
		next.ServeHTTP(rec, r)

		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = "unmatched"
		}

		m.requestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.Status())).Inc()
		m.requestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) TicketCreated() {
	m.ticketsCreated.Inc()
}

func (m *Metrics) TicketVerified() {
	m.ticketsVerified.Inc()
}

func (m *Metrics) ConsumeResult(ok bool) {
	result := "rejected"
	if ok {
		result = "ok"
	}
	m.consumeResults.WithLabelValues(result).Inc()
}

func (m *Metrics) ChallengeResult(passed bool) {
	result := "fail"
	if passed {
		result = "pass"
	}
	m.challengeResults.WithLabelValues(result).Inc()
}

// ObserveCleanup records deletions from a cleanup run.
func (m *Metrics) ObserveCleanup(deleted int64) {
	m.cleanupDeleted.Add(float64(deleted))
}
