package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "beautybot"

var (
	once sync.Once

	updatesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_received_total",
			Help:      "Count of webhook updates by kind.",
		},
		[]string{"kind"},
	)

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_created_total",
			Help:      "Count of booking attempts by outcome.",
		},
		[]string{"status"},
	)

	bookingCancelled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_cancelled_total",
			Help:      "Count of cancelled bookings by initiator.",
		},
		[]string{"by"},
	)

	dialogueTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialogue_transitions_total",
			Help:      "Count of dialogue step transitions by target step.",
		},
		[]string{"step"},
	)

	llmRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Count of LLM calls by purpose and outcome.",
		},
		[]string{"kind", "status"},
	)

	llmDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Latency of LLM completions by purpose.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		},
		[]string{"kind"},
	)

	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Count of manager notifications by type and outcome.",
		},
		[]string{"type", "status"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			updatesReceived,
			bookingCreated,
			bookingCancelled,
			dialogueTransitions,
			llmRequests,
			llmDuration,
			notificationsSent,
		)
	})
}

func IncUpdate(kind string) {
	updatesReceived.WithLabelValues(kind).Inc()
}

func IncBookingCreated(status string) {
	bookingCreated.WithLabelValues(status).Inc()
}

func IncBookingCancelled(by string) {
	bookingCancelled.WithLabelValues(by).Inc()
}

func IncTransition(step string) {
	dialogueTransitions.WithLabelValues(step).Inc()
}

func IncLLMRequest(kind, status string) {
	llmRequests.WithLabelValues(kind, status).Inc()
}

func ObserveLLMDuration(kind string, d time.Duration) {
	llmDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func IncNotification(kind, status string) {
	notificationsSent.WithLabelValues(kind, status).Inc()
}
