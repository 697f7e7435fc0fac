package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebSocket metrics
	WebSocketConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ren_websocket_connections",
			Help: "Number of active WebSocket connections",
		},
		[]string{"server_id"},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ren_websocket_messages_total",
			Help: "Total number of WebSocket messages processed",
		},
		[]string{"server_id", "message_type", "direction"},
	)

	// Message metrics
	MessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ren_messages_total",
			Help: "Total number of message envelopes relayed",
		},
	)

	MessageDeliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ren_message_delivery_latency_seconds",
			Help:    "Message delivery latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to 16s
		},
		[]string{"delivery_type"}, // immediate, offline
	)

	OfflineMessagesQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ren_offline_messages_queued_total",
			Help: "Total number of messages queued for offline users",
		},
	)

	// Authentication metrics
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ren_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"type", "result"}, // login/register/refresh, success/failure
	)

	// API metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ren_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ren_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Pre-key metrics
	PreKeysRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ren_prekeys_remaining",
			Help: "Number of unused one-time prekeys remaining per user",
		},
		[]string{"user_id"},
	)

	PreKeyBundlesServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ren_prekey_bundles_served_total",
			Help: "Total number of pre-key bundles served",
		},
		[]string{"with_one_time"}, // true, false
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ren_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"endpoint", "tier"},
	)

	RateLimitRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ren_rate_limit_requests_total",
			Help: "Total number of rate limited requests",
		},
		[]string{"endpoint", "tier", "result"}, // result: allowed, denied
	)

	// Media metrics
	MediaUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ren_media_uploads_total",
			Help: "Total number of media uploads",
		},
		[]string{"type"}, // image, video, audio, document
	)

	MediaUploadSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ren_media_upload_size_bytes",
			Help:    "Size of uploaded media files in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to 1GB
		},
	)
)

// statusRecorder captures the response status for the HTTP metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HTTPMiddleware records request counts and latencies per route.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
