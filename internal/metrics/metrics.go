package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Deliveries       prometheus.Counter
	KeywordMatches   prometheus.Counter
	OtpDetections    prometheus.Counter
	DedupSuppressed  prometheus.Counter
	ForwardSuccesses prometheus.Counter
	ForwardFailures  prometheus.Counter
	ProcessingTime   prometheus.Histogram
	RecordCount      prometheus.Gauge
	ProcessedKeys    prometheus.Gauge
}

// New creates new Prometheus metrics
func New() *Metrics {
	return &Metrics{
		Deliveries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "otplink_deliveries_total",
			Help: "Total number of inbound message deliveries",
		}),
		KeywordMatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "otplink_keyword_matches_total",
			Help: "Total number of messages that matched a configured keyword",
		}),
		OtpDetections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "otplink_otp_detections_total",
			Help: "Total number of messages with an extracted OTP",
		}),
		DedupSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "otplink_dedup_suppressed_total",
			Help: "Total number of deliveries suppressed as duplicates",
		}),
		ForwardSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "otplink_forward_successes_total",
			Help: "Total number of successfully forwarded OTPs",
		}),
		ForwardFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "otplink_forward_failures_total",
			Help: "Total number of failed forwarding attempts",
		}),
		ProcessingTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "otplink_processing_duration_seconds",
			Help:    "Time spent processing inbound messages",
			Buckets: prometheus.DefBuckets,
		}),
		RecordCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "otplink_records",
			Help: "Number of OTP records in the persisted history",
		}),
		ProcessedKeys: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "otplink_processed_keys",
			Help: "Number of dedup keys in the persisted window",
		}),
	}
}
