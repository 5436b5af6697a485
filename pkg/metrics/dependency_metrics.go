// Package metrics provides Prometheus metrics for external collaborators
// (ffmpeg, nvidia-smi, whisper CLI) invoked by chunkscribe.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// External command metrics
var (
	// commandExecutionTotal records the total number of external command executions.
	// Labels:
	//   - command: Command name (e.g., "ffmpeg", "nvidia-smi")
	//   - status: Execution status ("success", "failed", "timeout")
	commandExecutionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkscribe_command_executions_total",
			Help: "Total number of external command executions",
		},
		[]string{"command", "status"},
	)

	// commandExecutionDuration records the duration of external command executions.
	// Buckets: 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s, 300s, 900s
	commandExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chunkscribe_command_duration_seconds",
			Help:    "Duration of external command executions in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"command"},
	)

	// degradationEventsTotal records switches between a primary capability and its fallback.
	// Labels:
	//   - from: Capability that was active (e.g., "ffmpeg")
	//   - to: Capability that became active (e.g., "wav-native")
	degradationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkscribe_degradation_events_total",
			Help: "Total number of capability degradation/recovery events",
		},
		[]string{"from", "to"},
	)
)

func init() {
	prometheus.MustRegister(commandExecutionTotal)
	prometheus.MustRegister(commandExecutionDuration)
	prometheus.MustRegister(degradationEventsTotal)
}

// RecordCommandExecution records a command execution event.
func RecordCommandExecution(command, status string) {
	commandExecutionTotal.WithLabelValues(command, status).Inc()
}

// RecordCommandDuration records the duration of a command execution in seconds.
func RecordCommandDuration(command string, durationSeconds float64) {
	commandExecutionDuration.WithLabelValues(command).Observe(durationSeconds)
}

// RecordDegradationEvent records a switch from one capability to another.
func RecordDegradationEvent(from, to string) {
	degradationEventsTotal.WithLabelValues(from, to).Inc()
}
