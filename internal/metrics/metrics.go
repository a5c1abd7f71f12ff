package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_events_ingested_total",
			Help: "Total number of events accepted into the event store",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_events_dropped_total",
			Help: "Total number of events dropped before delivery",
		},
		[]string{"reason"},
	)

	// Store metrics
	StoreDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_store_depth",
			Help: "Current number of events buffered for the active session",
		},
	)

	QueuedDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_queued_depth",
			Help: "Current number of events held until a session starts",
		},
	)

	// Delivery metrics
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_batches_total",
			Help: "Total number of batches handed to the collector client",
		},
		[]string{"status"},
	)

	DeliveryAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_delivery_attempts_total",
			Help: "Total number of HTTP attempts made to the collector",
		},
	)

	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beacon_delivery_duration_seconds",
			Help:    "Duration of a batch delivery including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Remote config metrics
	ConfigFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_config_fetch_total",
			Help: "Total number of remote config fetches",
		},
		[]string{"status"},
	)

	// Backpressure metrics
	LowMemoryClears = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_low_memory_clears_total",
			Help: "Total number of store clears triggered by memory pressure",
		},
	)

	DeadLettered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_dead_lettered_batches_total",
			Help: "Total number of failed batches archived to the dead letter queue",
		},
	)
)

// Drop reasons.
const (
	ReasonNotConfigured = "not_configured"
	ReasonStopped       = "stopped"
	ReasonNotSampled    = "not_sampled"
	ReasonLowMemory     = "low_memory"
	ReasonSendFailed    = "send_failed"
	ReasonReserved      = "reserved_type"
)
