package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mentorhub_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mentorhub_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	tickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mentorhub_tick_duration_seconds",
			Help:    "Duration of one periodic job run",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		},
		[]string{"job"},
	)

	tickFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mentorhub_tick_failures_total",
			Help: "Periodic job runs that aborted with an error",
		},
		[]string{"job"},
	)

	rulesMaterialized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mentorhub_rules_materialized_total",
			Help: "Rules that fired, by kind",
		},
		[]string{"kind"},
	)

	notificationsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mentorhub_notifications_enqueued_total",
			Help: "Notifications enqueued, by source",
		},
		[]string{"source"},
	)

	notificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mentorhub_notifications_dispatched_total",
			Help: "Dispatch attempts by result",
		},
		[]string{"result"},
	)

	meetingsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mentorhub_meetings_completed_total",
			Help: "Meetings transitioned to completed",
		},
	)

	surveysSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mentorhub_surveys_submitted_total",
			Help: "Survey submissions by outcome",
		},
		[]string{"outcome"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTick records the duration and outcome of one periodic job run.
func RecordTick(job string, duration time.Duration, err error) {
	tickDuration.WithLabelValues(job).Observe(duration.Seconds())
	if err != nil {
		tickFailures.WithLabelValues(job).Inc()
	}
}

// RecordRuleMaterialized records a rule that fired.
func RecordRuleMaterialized(kind string) {
	rulesMaterialized.WithLabelValues(kind).Inc()
}

// RecordNotificationsEnqueued records notifications entering the queue.
func RecordNotificationsEnqueued(source string, n int) {
	notificationsEnqueued.WithLabelValues(source).Add(float64(n))
}

// RecordNotificationDispatched records one dispatch attempt result
// ("delivered" or "failed").
func RecordNotificationDispatched(result string) {
	notificationsDispatched.WithLabelValues(result).Inc()
}

// RecordMeetingCompleted records a meeting lifecycle transition.
func RecordMeetingCompleted() {
	meetingsCompleted.Inc()
}

// RecordSurveySubmitted records a survey submission outcome
// ("accepted" or "duplicate").
func RecordSurveySubmitted(outcome string) {
	surveysSubmitted.WithLabelValues(outcome).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
