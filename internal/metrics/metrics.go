// ABOUTME: Prometheus instrumentation for HTTP traffic, auth outcomes and task writes
// ABOUTME: Implements auth.Recorder and exposes a scrape handler on a private registry

package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/tasktrack/internal/auth"
	"github.com/2389/tasktrack/internal/live"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "tasktrack"

// Ensure Metrics implements auth.Recorder.
var _ auth.Recorder = (*Metrics)(nil)

// Metrics holds the service's collectors.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	challenges      *prometheus.CounterVec
	forbidden       prometheus.Counter
	logins          *prometheus.CounterVec
	taskEvents      *prometheus.CounterVec
}

// New creates Metrics on a fresh registry that also carries the Go runtime
// and process collectors.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route class, method and status code",
		}, []string{"route", "method", "code"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds by route class",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		challenges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_challenges_total",
			Help:      "Unauthenticated requests by response mode",
		}, []string{"mode"}),

		forbidden: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_forbidden_total",
			Help:      "Authenticated requests refused for missing role",
		}),

		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_logins_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),

		taskEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_events_total",
			Help:      "Task writes by event type",
		}, []string{"type"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Challenged implements auth.Recorder.
func (m *Metrics) Challenged(mode auth.ChallengeMode) {
	m.challenges.WithLabelValues(mode.String()).Inc()
}

// Forbidden implements auth.Recorder.
func (m *Metrics) Forbidden() {
	m.forbidden.Inc()
}

// LoginAttempt implements auth.Recorder.
func (m *Metrics) LoginAttempt(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	m.logins.WithLabelValues(result).Inc()
}

// ObserveTaskEvent counts a task write.
func (m *Metrics) ObserveTaskEvent(t live.EventType) {
	m.taskEvents.WithLabelValues(string(t)).Inc()
}

// EventPublisher is satisfied by live.Hub.
type EventPublisher interface {
	Publish(ev live.Event)
}

type countingPublisher struct {
	next EventPublisher
	m    *Metrics
}

func (p countingPublisher) Publish(ev live.Event) {
	p.m.ObserveTaskEvent(ev.Type)
	p.next.Publish(ev)
}

// CountEvents wraps next so every published event is counted.
func (m *Metrics) CountEvents(next EventPublisher) EventPublisher {
	return countingPublisher{next: next, m: m}
}

// WatchSubscribers exports n as the live subscriber gauge.
func (m *Metrics) WatchSubscribers(namespace string, n func() int) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_subscribers",
		Help:      "Connected live update subscribers",
	}, func() float64 { return float64(n()) })
}

// RouteClass buckets a path into a small fixed label set so request
// metrics keep bounded cardinality.
func RouteClass(path string) string {
	switch {
	case path == "/api" || strings.HasPrefix(path, "/api/"):
		return "api"
	case strings.HasPrefix(path, "/auth/") || path == "/me" || path == "/login":
		return "auth"
	case strings.HasPrefix(path, "/live/"):
		return "live"
	case strings.HasPrefix(path, "/static/"):
		return "static"
	case path == "/" || path == "/todos" || strings.HasPrefix(path, "/todos/"):
		return "ui"
	default:
		return "other"
	}
}

// statusRecorder captures the response status for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack passes through so websocket upgrades work behind the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func (r *statusRecorder) Flush() {
	_ = http.NewResponseController(r.ResponseWriter).Flush()
}

// Middleware records request counts and durations.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		route := RouteClass(r.URL.Path)
		m.requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
