package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hbdp",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hbdp",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds, including time spent held.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "status"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hbdp",
			Name:      "sessions_active",
			Help:      "Sessions currently present in the registry.",
		},
	)
	sessionsEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hbdp",
			Name:      "sessions_ended_total",
			Help:      "Sessions removed from the registry, by reason.",
		},
		[]string{"reason"},
	)
	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hbdp",
			Name:      "submissions_total",
			Help:      "Data submissions by outcome.",
		},
		[]string{"result"},
	)
	exchangesHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hbdp",
			Name:      "exchanges_held",
			Help:      "Exchanges parked awaiting output or supersession.",
		},
	)
	exchangesSuperseded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hbdp",
			Name:      "exchanges_superseded_total",
			Help:      "Held exchanges completed empty because a newer serial arrived.",
		},
	)
	streamBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hbdp",
			Name:      "bytes_total",
			Help:      "Session payload bytes by direction.",
		},
		[]string{"direction"},
	)
)

const (
	SessionEndClient = "client"
	SessionEndServer = "server"

	SubmitAccepted = "accepted"
	SubmitSequence = "sequence"
	SubmitTooLarge = "too_large"

	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			sessionsActive,
			sessionsEnded,
			submissions,
			exchangesHeld,
			exchangesSuperseded,
			streamBytes,
		)
	})
}

func RecordHTTPRequest(node, method string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, statusLabel).Observe(duration.Seconds())
}

func SessionStarted() {
	RegisterMetrics()
	sessionsActive.Inc()
}

func SessionEnded(reason string) {
	RegisterMetrics()
	sessionsActive.Dec()
	sessionsEnded.WithLabelValues(reason).Inc()
}

func RecordSubmission(result string) {
	RegisterMetrics()
	submissions.WithLabelValues(result).Inc()
}

func ExchangeHeld() {
	RegisterMetrics()
	exchangesHeld.Inc()
}

func ExchangeReleased() {
	RegisterMetrics()
	exchangesHeld.Dec()
}

func ExchangeSuperseded() {
	RegisterMetrics()
	exchangesSuperseded.Inc()
}

func RecordBytes(direction string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	streamBytes.WithLabelValues(direction).Add(float64(n))
}
