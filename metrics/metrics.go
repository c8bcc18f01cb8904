package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTP
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "path"},
	)

	// Referral program
	ReferralConversionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_conversions_total",
			Help: "Referral conversions by reward type",
		},
		[]string{"reward_type"},
	)
	TicketsGrantedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draw_tickets_granted_total",
			Help: "Draw tickets granted by source",
		},
		[]string{"source"},
	)
	TicketsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "draw_tickets_expired_total",
			Help: "Draw tickets moved to expired by the sweep",
		},
	)

	// Draws and payments
	DrawsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draws_completed_total",
			Help: "Draw runs by outcome",
		},
		[]string{"outcome"},
	)
	PaymentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draw_payment_transitions_total",
			Help: "Winner payment state transitions",
		},
		[]string{"to"},
	)

	// Collaborators
	NotificationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_failures_total",
			Help: "Notification or email deliveries that failed and were dropped",
		},
		[]string{"channel"},
	)
	ScheduledJobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduled_job_runs_total",
			Help: "Maintenance job executions by job and status",
		},
		[]string{"job", "status"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)

	prometheus.MustRegister(ReferralConversionsTotal)
	prometheus.MustRegister(TicketsGrantedTotal)
	prometheus.MustRegister(TicketsExpiredTotal)
	prometheus.MustRegister(DrawsCompletedTotal)
	prometheus.MustRegister(PaymentTransitionsTotal)

	prometheus.MustRegister(NotificationFailuresTotal)
	prometheus.MustRegister(ScheduledJobRunsTotal)
}
