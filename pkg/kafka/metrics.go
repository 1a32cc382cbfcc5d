package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished counts events accepted by the brokers.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aptbooks",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Ledger events accepted by Kafka, by topic and event type",
		},
		[]string{"topic", "event_type"},
	)

	// PublishErrors counts events that could not be encoded or written.
	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aptbooks",
			Subsystem: "events",
			Name:      "publish_errors_total",
			Help:      "Ledger events that failed to publish, by topic and event type",
		},
		[]string{"topic", "event_type"},
	)

	PublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aptbooks",
			Subsystem: "events",
			Name:      "publish_duration_seconds",
			Help:      "Time spent writing a ledger event to Kafka",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"topic"},
	)
)
