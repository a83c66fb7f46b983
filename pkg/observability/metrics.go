package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	PayloadDecoded   = "decoded"
	PayloadDiscarded = "discarded"
)

var (
	registerOnce sync.Once

	streamPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qstream",
			Subsystem: "stream",
			Name:      "packets_total",
			Help:      "Packets read from the device stream by payload handling.",
		},
		[]string{"payload"},
	)
	streamPayloadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "qstream",
			Subsystem: "stream",
			Name:      "payload_bytes_total",
			Help:      "Payload bytes consumed, discarded payloads included.",
		},
	)
	streamFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qstream",
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Decoded channel frames by channel type.",
		},
		[]string{"channel_type"},
	)
	streamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qstream",
			Subsystem: "stream",
			Name:      "errors_total",
			Help:      "Fatal stream errors by kind.",
		},
		[]string{"kind"},
	)
	streamDecodeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "qstream",
			Subsystem: "stream",
			Name:      "decode_duration_seconds",
			Help:      "Time spent decoding one payload.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		},
	)
	streamBufferCapacity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "qstream",
			Subsystem: "stream",
			Name:      "buffer_capacity_bytes",
			Help:      "Current frame buffer capacity.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qstream",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP API requests by route template and status.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "qstream",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP API request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			streamPackets,
			streamPayloadBytes,
			streamFrames,
			streamErrors,
			streamDecodeDuration,
			streamBufferCapacity,
			httpRequests,
			httpRequestDuration,
		)
	})
}

func RecordPacket(payload string, size int) {
	RegisterMetrics()
	streamPackets.WithLabelValues(payload).Inc()
	streamPayloadBytes.Add(float64(size))
}

func RecordFrames(channelType string, n int) {
	RegisterMetrics()
	streamFrames.WithLabelValues(channelType).Add(float64(n))
}

func RecordDecode(d time.Duration) {
	RegisterMetrics()
	streamDecodeDuration.Observe(d.Seconds())
}

func RecordStreamError(kind string) {
	RegisterMetrics()
	streamErrors.WithLabelValues(kind).Inc()
}

func SetBufferCapacity(n int) {
	RegisterMetrics()
	streamBufferCapacity.Set(float64(n))
}

func RecordHTTPRequest(method, path string, status int, d time.Duration) {
	RegisterMetrics()
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
