package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lockstep",
			Subsystem: "comm",
			Name:      "frames_sent_total",
			Help:      "Total frames written to peer ranks.",
		},
	)
	framesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lockstep",
			Subsystem: "comm",
			Name:      "frames_received_total",
			Help:      "Total frames read from peer ranks.",
		},
	)
	bytesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lockstep",
			Subsystem: "comm",
			Name:      "payload_bytes_sent_total",
			Help:      "Total payload bytes written to peer ranks.",
		},
	)
	bytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lockstep",
			Subsystem: "comm",
			Name:      "payload_bytes_received_total",
			Help:      "Total payload bytes read from peer ranks.",
		},
	)
	stepsExecuted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lockstep",
			Subsystem: "engine",
			Name:      "steps_total",
			Help:      "Total simulation steps executed by the local chunk.",
		},
	)
	probeSamples = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lockstep",
			Subsystem: "engine",
			Name:      "probe_samples_total",
			Help:      "Total probe samples captured by the local chunk.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesSent, framesReceived, bytesSent, bytesReceived,
			stepsExecuted, probeSamples,
		)
	})
}

func RecordFrameSent(payloadBytes int) {
	framesSent.Inc()
	bytesSent.Add(float64(payloadBytes))
}

func RecordFrameReceived(payloadBytes int) {
	framesReceived.Inc()
	bytesReceived.Add(float64(payloadBytes))
}

func RecordStep() {
	stepsExecuted.Inc()
}

func RecordProbeSample() {
	probeSamples.Inc()
}
