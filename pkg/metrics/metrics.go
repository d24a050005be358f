package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Channel metrics
	ChannelState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "runnerx_channel_state",
			Help: "Current event channel state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	ChannelConnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runnerx_channel_connects_total",
			Help: "Total number of connection attempts by outcome",
		},
		[]string{"outcome"},
	)

	ChannelReconnectsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "runnerx_channel_reconnects_scheduled_total",
			Help: "Total number of reconnection attempts scheduled after abnormal closes",
		},
	)

	ChannelFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "runnerx_channel_failures_total",
			Help: "Total number of times reconnection attempts were exhausted",
		},
	)

	ChannelQueuedMessages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "runnerx_channel_queued_messages",
			Help: "Outbound messages waiting for the channel to open",
		},
	)

	ChannelDroppedMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "runnerx_channel_dropped_messages_total",
			Help: "Outbound messages dropped because queueing was disabled or the queue was full",
		},
	)

	FramesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "runnerx_frames_received_total",
			Help: "Total number of inbound frames",
		},
	)

	RecordsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runnerx_records_received_total",
			Help: "Total number of inbound records by kind",
		},
		[]string{"kind"},
	)

	RecordsMalformed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "runnerx_records_malformed_total",
			Help: "Total number of inbound records skipped because they could not be parsed",
		},
	)

	// Registry metrics
	HandlerPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runnerx_handler_panics_total",
			Help: "Total number of recovered subscriber panics by kind",
		},
		[]string{"kind"},
	)

	// Reconciler metrics
	FlushesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "runnerx_reconciler_flushes_total",
			Help: "Total number of non-empty reconciliation flushes",
		},
	)

	FlushBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runnerx_reconciler_flush_batch_size",
			Help:    "Number of entities applied per reconciliation flush",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	// Poller metrics
	PollRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runnerx_poll_requests_total",
			Help: "Total number of polling fetches by category and result",
		},
		[]string{"category", "result"},
	)

	PollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runnerx_poll_duration_seconds",
			Help:    "Polling fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	PollInterval = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "runnerx_poll_interval_seconds",
			Help: "Currently recommended polling interval by category",
		},
		[]string{"category"},
	)

	// Cache metrics
	CacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "runnerx_cache_entries",
			Help: "Number of cached entities by category",
		},
		[]string{"category"},
	)

	// API client metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runnerx_api_requests_total",
			Help: "Total number of REST API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runnerx_api_request_duration_seconds",
			Help:    "REST API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(ChannelState)
	prometheus.MustRegister(ChannelConnectsTotal)
	prometheus.MustRegister(ChannelReconnectsScheduled)
	prometheus.MustRegister(ChannelFailuresTotal)
	prometheus.MustRegister(ChannelQueuedMessages)
	prometheus.MustRegister(ChannelDroppedMessages)
	prometheus.MustRegister(FramesReceived)
	prometheus.MustRegister(RecordsReceived)
	prometheus.MustRegister(RecordsMalformed)
	prometheus.MustRegister(HandlerPanics)
	prometheus.MustRegister(FlushesTotal)
	prometheus.MustRegister(FlushBatchSize)
	prometheus.MustRegister(PollRequestsTotal)
	prometheus.MustRegister(PollDuration)
	prometheus.MustRegister(PollInterval)
	prometheus.MustRegister(CacheEntries)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
