package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nearby_sessions_active",
			Help: "Number of open engine sessions",
		},
	)

	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearby_signals_total",
			Help: "Total number of engine signals by type",
		},
		[]string{"type"},
	)

	// Proximity metrics
	UnlockTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearby_unlock_transitions_total",
			Help: "Total number of venues entering or leaving the unlocked set",
		},
		[]string{"direction"},
	)

	// Channel metrics
	ChannelTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearby_channel_transitions_total",
			Help: "Total number of channel state transitions by target state",
		},
		[]string{"state"},
	)

	MessagesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nearby_messages_received_total",
			Help: "Total number of inbound chat messages accepted",
		},
	)

	SendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearby_sends_total",
			Help: "Total number of outbound sends by outcome",
		},
		[]string{"outcome"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearby_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nearby_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(SignalsTotal)
	prometheus.MustRegister(UnlockTransitions)
	prometheus.MustRegister(ChannelTransitions)
	prometheus.MustRegister(MessagesReceived)
	prometheus.MustRegister(SendsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation for a histogram
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the timer started
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time on the histogram vec
func (t *Timer) ObserveDuration(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Elapsed().Seconds())
}
