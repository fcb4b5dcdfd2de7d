package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Booking lifecycle counters
	BookingsRequested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_requests_total",
			Help: "Booking requests by outcome",
		},
		[]string{"outcome"},
	)

	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_transitions_total",
			Help: "Applied booking status transitions",
		},
		[]string{"to", "reason"},
	)

	CapacityReleases = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_capacity_releases_total",
			Help: "Seats returned to the capacity ledger",
		},
	)

	// Payments
	WebhookOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_outcomes_total",
			Help: "Reconciliation outcome per verified webhook",
		},
		[]string{"outcome"},
	)

	PaymentConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_conflicts_total",
			Help: "Payments recorded for manual reconciliation",
		},
		[]string{"reason"},
	)

	GatewayBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "payment_gateway_breaker_open",
			Help: "1 while the payment gateway circuit breaker is not closed",
		},
		[]string{"state"},
	)

	// Workers
	ExpiredReservations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_expired_reservations_total",
			Help: "Pending bookings failed by the timeout sweeper",
		},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_messages_total",
			Help: "Outbox relay results",
		},
		[]string{"result"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "booking_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"route", "status"},
	)
)

// RecordBookingRequest records the result of a booking request
func RecordBookingRequest(outcome string) {
	BookingsRequested.WithLabelValues(outcome).Inc()
}

// RecordTransition records an applied transition and any seat it released
func RecordTransition(to, reason string, released bool) {
	BookingTransitions.WithLabelValues(to, reason).Inc()
	if released {
		CapacityReleases.Inc()
	}
}

// RecordWebhook records a reconciliation outcome
func RecordWebhook(outcome string) {
	WebhookOutcomes.WithLabelValues(outcome).Inc()
}

// RecordConflict records a payment conflict
func RecordConflict(reason string) {
	PaymentConflicts.WithLabelValues(reason).Inc()
}

// RecordBreakerState tracks the gateway breaker; closed clears the other states.
func RecordBreakerState(from, to string) {
	GatewayBreakerState.WithLabelValues(from).Set(0)
	if to != "closed" {
		GatewayBreakerState.WithLabelValues(to).Set(1)
	}
}

// RecordExpired records reservations failed by the sweeper
func RecordExpired(n int) {
	ExpiredReservations.Add(float64(n))
}

// RecordOutbox records a relay result: published, retry or dead
func RecordOutbox(result string) {
	OutboxPublished.WithLabelValues(result).Inc()
}

// Middleware observes request duration per route
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			RequestDuration.WithLabelValues(route, statusClass(c.Writer.Status())).Observe(v)
		}))
		c.Next()
		timer.ObserveDuration()
	}
}

// Handler exposes the default registry
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
