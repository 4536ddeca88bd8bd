package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Message results.
const (
	resultProcessed = "processed"
	resultFailed    = "failed"
	resultSkipped   = "skipped"
)

var (
	messagesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gamification",
		Subsystem: "consumer",
		Name:      "messages_total",
		Help:      "Kafka messages handled, labeled by topic, event type and result (processed, failed, skipped).",
	}, []string{"topic", "event_type", "result"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gamification",
		Subsystem: "consumer",
		Name:      "decode_errors_total",
		Help:      "Records that were not valid outbox frames, per topic.",
	}, []string{"topic"})

	eventLag = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gamification",
		Subsystem: "consumer",
		Name:      "event_lag_seconds",
		Help:      "Delay between an event being published and the consumer finishing it.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(messagesCounter, decodeErrorCounter, eventLag)
}

func recordProcessed(msg Message) {
	messagesCounter.WithLabelValues(msg.Topic, msg.EventType, resultProcessed).Inc()
	if !msg.Timestamp.IsZero() {
		eventLag.WithLabelValues(msg.Topic).Observe(time.Since(msg.Timestamp).Seconds())
	}
}

func recordHandlerError(msg Message) {
	messagesCounter.WithLabelValues(msg.Topic, msg.EventType, resultFailed).Inc()
}

func recordSkipped(msg Message) {
	messagesCounter.WithLabelValues(msg.Topic, msg.EventType, resultSkipped).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}
