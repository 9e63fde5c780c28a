package analytics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GatewayMetrics tracks gateway connection metrics
var GatewayMetrics = struct {
	EventsTotal    *prometheus.CounterVec
	GatewayLatency *prometheus.GaugeVec
	ShardStatus    *prometheus.GaugeVec
	Reconnects     *prometheus.CounterVec
	IdentifyWait   *prometheus.HistogramVec
}{
	EventsTotal: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandwich_events_total",
			Help: "Total number of dispatch events received, split by identifier and event type",
		},
		[]string{"application_identifier", "event_type"},
	),
	GatewayLatency: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sandwich_gateway_latency_seconds",
			Help: "Gateway latency in seconds, measured by heartbeat",
		},
		[]string{"application_identifier", "shard_id"},
	),
	ShardStatus: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sandwich_shard_status",
			Help: "Status of the shard",
		},
		[]string{"application_identifier", "shard_id"},
	),
	Reconnects: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandwich_shard_reconnects_total",
			Help: "Number of shard reconnects, split by whether the session was kept",
		},
		[]string{"application_identifier", "resumable"},
	),
	IdentifyWait: promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandwich_identify_wait_seconds",
			Help:    "Time spent waiting for an identify slot",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"application_identifier"},
	),
}

func RecordEvent(identifier, eventType string) {
	GatewayMetrics.EventsTotal.WithLabelValues(identifier, eventType).Inc()
}

func UpdateGatewayLatency(identifier string, shardID int32, latency time.Duration) {
	GatewayMetrics.GatewayLatency.WithLabelValues(identifier, strconv.Itoa(int(shardID))).Set(latency.Seconds())
}

func UpdateShardStatus(identifier string, shardID int32, status int32) {
	GatewayMetrics.ShardStatus.WithLabelValues(identifier, strconv.Itoa(int(shardID))).Set(float64(status))
}

func RecordReconnect(identifier string, resumable bool) {
	GatewayMetrics.Reconnects.WithLabelValues(identifier, strconv.FormatBool(resumable)).Inc()
}

func ObserveIdentifyWait(identifier string, wait time.Duration) {
	GatewayMetrics.IdentifyWait.WithLabelValues(identifier).Observe(wait.Seconds())
}

// RestMetrics tracks REST scheduler metrics
var RestMetrics = struct {
	Requests       *prometheus.CounterVec
	RateLimitHits  *prometheus.CounterVec
	BucketWait     *prometheus.HistogramVec
	QueuedRequests *prometheus.GaugeVec
}{
	Requests: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandwich_rest_requests_total",
			Help: "REST requests sent, split by route and response status",
		},
		[]string{"method", "route", "status"},
	),
	RateLimitHits: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandwich_rest_ratelimit_hits_total",
			Help: "REST 429 responses, split by scope",
		},
		[]string{"scope"},
	),
	BucketWait: promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandwich_rest_bucket_wait_seconds",
			Help:    "Time requests spent waiting for a bucket to reset",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"route"},
	),
	QueuedRequests: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sandwich_rest_queued_requests",
			Help: "Requests currently queued per route",
		},
		[]string{"route"},
	),
}

func RecordRequest(method, route string, status int) {
	RestMetrics.Requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func RecordRateLimitHit(scope string) {
	RestMetrics.RateLimitHits.WithLabelValues(scope).Inc()
}

func ObserveBucketWait(route string, wait time.Duration) {
	RestMetrics.BucketWait.WithLabelValues(route).Observe(wait.Seconds())
}

func AddQueuedRequests(route string, delta float64) {
	RestMetrics.QueuedRequests.WithLabelValues(route).Add(delta)
}
