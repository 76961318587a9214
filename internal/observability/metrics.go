package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Command metrics
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_reader_commands_total",
		Help: "Inbound chat events by command and final state",
	}, []string{"command", "outcome"})

	// Speech engine metrics
	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_reader_synthesis_requests_total",
		Help: "Total number of synthesis requests",
	}, []string{"status"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_reader_synthesis_latency_seconds",
		Help:    "Speech synthesis latency in seconds (query and synthesis phases)",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	// Voice metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_reader_active_voice_sessions",
		Help: "Number of scopes with an active voice session",
	})

	enqueuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_reader_voice_enqueues_total",
		Help: "Audio tracks handed to voice sessions",
	}, []string{"status"})

	// Messaging metrics
	messagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_reader_messages_sent_total",
		Help: "Outbound chat replies",
	}, []string{"status"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_reader_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_reader_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordCommand records the final state of one inbound event.
func RecordCommand(command, outcome string) {
	commandsTotal.WithLabelValues(command, outcome).Inc()
}

// RecordSynthesis records one synthesis round trip started at start.
func RecordSynthesis(start time.Time, success bool) {
	synthesisLatency.Observe(time.Since(start).Seconds())
	synthesisRequests.WithLabelValues(status(success)).Inc()
}

// SetActiveSessions sets the active voice session gauge.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// RecordEnqueue records an enqueue attempt on a voice session.
func RecordEnqueue(success bool) {
	enqueuesTotal.WithLabelValues(status(success)).Inc()
}

// RecordMessageSent records an outbound reply attempt.
func RecordMessageSent(success bool) {
	messagesSent.WithLabelValues(status(success)).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
