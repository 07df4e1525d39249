// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle labels.
const (
	CycleReminders = "reminders"
	CycleFollowUps = "followups"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reminders_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	notificationsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminders_notifications_scheduled_total",
			Help: "Pending reminder rows created",
		},
	)

	notificationsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminders_notifications_cancelled_total",
			Help: "Pending reminder rows cancelled",
		},
	)

	notificationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_notifications_processed_total",
			Help: "Reminder rows finalized by terminal status",
		},
		[]string{"status"},
	)

	claimsReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminders_claims_reclaimed_total",
			Help: "Stale processing rows returned to pending",
		},
	)

	channelAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_channel_attempts_total",
			Help: "Channel delivery attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	cycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reminders_cycle_duration_seconds",
			Help:    "Wall time of a processing cycle",
			Buckets: []float64{.05, .1, .5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"cycle"},
	)

	cyclesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_cycles_skipped_total",
			Help: "Cycles not run because another was in progress",
		},
		[]string{"cycle", "reason"},
	)

	followUpsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminders_followups_processed_total",
			Help: "Leads advanced by the automatic follow-up cycle",
		},
	)

	sqsMessagesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reminders_sqs_messages_in_flight",
			Help: "Follow-up trigger messages being handled",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"organization_id"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reminders_db_connections_active",
			Help: "Acquired database connections",
		},
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

func AddNotificationsScheduled(n int) {
	notificationsScheduled.Add(float64(n))
}

func AddNotificationsCancelled(n int64) {
	notificationsCancelled.Add(float64(n))
}

// RecordNotificationProcessed counts a row reaching sent or failed.
func RecordNotificationProcessed(status string) {
	notificationsProcessed.WithLabelValues(status).Inc()
}

func AddClaimsReclaimed(n int64) {
	claimsReclaimed.Add(float64(n))
}

// RecordChannelAttempt counts one channel result: sent, failed or skipped.
func RecordChannelAttempt(channel, outcome string) {
	channelAttempts.WithLabelValues(channel, outcome).Inc()
}

func ObserveCycle(cycle string, d time.Duration) {
	cycleDuration.WithLabelValues(cycle).Observe(d.Seconds())
}

// RecordCycleSkipped counts a tick dropped by the overlap guard ("local")
// or the Redis lease ("lease"), and a run cut short by losing the lease
// ("lease_lost").
func RecordCycleSkipped(cycle, reason string) {
	cyclesSkipped.WithLabelValues(cycle, reason).Inc()
}

func RecordFollowUpProcessed() {
	followUpsProcessed.Inc()
}

func SetSQSMessagesInFlight(count int) {
	sqsMessagesInFlight.Set(float64(count))
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(orgID string) {
	rateLimitRejections.WithLabelValues(orgID).Inc()
}

func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
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

// Middleware records request metrics labelled by chi route pattern, so
// /v1/tasks/{id} is one series regardless of id.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, routePattern(r), wrapped.status, time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
