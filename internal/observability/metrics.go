package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Metrics collects Prometheus metrics for the HTTP surface and the ledger.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	entriesTotal    *prometheus.CounterVec
	linesTotal      prometheus.Counter
	eventsTotal     *prometheus.CounterVec
}

// NewMetrics builds a private registry with the base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	entries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_entries_total",
		Help: "Journal entries committed, by action (draft, post, reverse, discard).",
	}, []string{"action"})
	lines := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_ledger_posted_lines_total",
		Help: "Journal lines that reached the posted ledger.",
	})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_events_total",
		Help: "Ledger domain events by tag.",
	}, []string{"tag"})
	registry.MustRegister(requests, duration, entries, lines, events)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		entriesTotal:    entries,
		linesTotal:      lines,
		eventsTotal:     events,
	}
}

// Handler serves /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for extra collectors such as job metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// EntryCommitted counts a committed journal action.
func (m *Metrics) EntryCommitted(_ context.Context, action string, entry journals.JournalEntry) {
	if m == nil {
		return
	}
	m.entriesTotal.WithLabelValues(action).Inc()
	if entry.Status == journals.JournalStatusPosted {
		m.linesTotal.Add(float64(len(entry.Lines)))
	}
}

// Emitter returns an Emitter that counts each event by tag before handing it to next.
func (m *Metrics) Emitter(next shared.Emitter) shared.Emitter {
	return countingEmitter{metrics: m, next: next}
}

type countingEmitter struct {
	metrics *Metrics
	next    shared.Emitter
}

func (e countingEmitter) Emit(evt shared.Event) {
	if e.metrics != nil {
		e.metrics.eventsTotal.WithLabelValues(string(evt.Tag)).Inc()
	}
	if e.next != nil {
		e.next.Emit(evt)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
