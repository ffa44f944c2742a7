package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamflix_jobs_processed_total",
		Help: "Total number of jobs that reached a terminal state or were retried, by outcome",
	}, []string{"outcome"})

	JobsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamflix_jobs_enqueued_total",
		Help: "Total number of jobs enqueued, by kind",
	}, []string{"kind"})

	JobProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streamflix_job_processing_duration_seconds",
		Help:    "Duration of item ingestion stages",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	JobProgress = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamflix_job_progress_percent",
		Help: "Last reported progress per worker slot",
	}, []string{"worker"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamflix_active_workers",
		Help: "Number of workers currently executing a job",
	})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamflix_retry_total",
		Help: "Total number of retries, by attempt that failed",
	}, []string{"attempt"})

	CacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamflix_cache_requests_total",
		Help: "Cache operations, by operation and result",
	}, []string{"op", "result"})

	BusMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamflix_bus_messages_total",
		Help: "Event bus messages, by channel and direction",
	}, []string{"channel", "direction"})

	BusErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamflix_bus_errors_total",
		Help: "Event bus failures, by channel and operation",
	}, []string{"channel", "op"})

	GatewayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamflix_gateway_connections",
		Help: "Open realtime connections",
	})

	GatewayRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamflix_gateway_rooms",
		Help: "Rooms with at least one member",
	})

	GatewayMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamflix_gateway_messages_total",
		Help: "Messages sent to connections, by event and result",
	}, []string{"event", "result"})
)
