package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StreamOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamcore",
		Name:      "stream_operations_total",
		Help:      "Start/stop operations by outcome",
	}, []string{"operation", "result"})

	UpstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "streamcore",
		Name:      "upstream_request_duration_seconds",
		Help:      "Duration of calls to the stream provider API",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"operation"})

	UpstreamLogins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamcore",
		Name:      "upstream_logins_total",
		Help:      "Upstream token refreshes by outcome",
	}, []string{"result"})

	ProxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamcore",
		Name:      "proxy_requests_total",
		Help:      "HLS proxy responses by kind and status code",
	}, []string{"kind", "status"})

	ProxyBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streamcore",
		Name:      "proxy_segment_bytes_total",
		Help:      "Segment bytes streamed through the HLS proxy",
	})

	HealthSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "streamcore",
		Name:      "health_sweep_duration_seconds",
		Help:      "Duration of a full health sweep",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	StreamRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamcore",
		Name:      "stream_restarts_total",
		Help:      "Automatic restarts attempted by the health monitor",
	}, []string{"severity", "result"})

	LiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamcore",
		Name:      "live_streams",
		Help:      "Cameras counted as live in the last health sweep",
	})

	FailedStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamcore",
		Name:      "failed_streams",
		Help:      "Cameras counted as failed in the last health sweep",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "streamcore",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamcore",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
