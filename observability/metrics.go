package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LnurlpMetrics records activity on the lnurlp negotiation endpoint.
type LnurlpMetrics struct {
	requests        *prometheus.CounterVec
	errors          *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	nonceConflicts  prometheus.Counter
	invoicesIssued  *prometheus.CounterVec
	optionsAdvertis prometheus.Histogram
}

var (
	lnurlpOnce sync.Once
	lnurlpReg  *LnurlpMetrics
)

// Lnurlp returns the lazily-initialised metrics registry for the negotiation
// endpoint. Phases are "discovery" and "payment".
func Lnurlp() *LnurlpMetrics {
	lnurlpOnce.Do(func() {
		lnurlpReg = &LnurlpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "uma",
				Subsystem: "lnurlp",
				Name:      "requests_total",
				Help:      "Total lnurlp requests segmented by phase and outcome.",
			}, []string{"phase", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "uma",
				Subsystem: "lnurlp",
				Name:      "errors_total",
				Help:      "Total lnurlp errors segmented by phase and status code.",
			}, []string{"phase", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "uma",
				Subsystem: "lnurlp",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for lnurlp handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"phase"}),
			nonceConflicts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "uma",
				Subsystem: "lnurlp",
				Name:      "nonce_conflicts_total",
				Help:      "Count of payment requests rejected because the nonce was already consumed.",
			}),
			invoicesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "uma",
				Subsystem: "lnurlp",
				Name:      "instructions_issued_total",
				Help:      "Payment instructions issued segmented by settlement layer.",
			}, []string{"layer"}),
			optionsAdvertis: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "uma",
				Subsystem: "lnurlp",
				Name:      "settlement_options",
				Help:      "Distribution of settlement option counts advertised during discovery.",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
			}),
		}
		prometheus.MustRegister(
			lnurlpReg.requests,
			lnurlpReg.errors,
			lnurlpReg.latency,
			lnurlpReg.nonceConflicts,
			lnurlpReg.invoicesIssued,
			lnurlpReg.optionsAdvertis,
		)
	})
	return lnurlpReg
}

// Observe records the outcome of a negotiation request. The status code is the
// HTTP status ultimately written to the response writer.
func (m *LnurlpMetrics) Observe(phase string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if phase == "" {
		phase = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(phase, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(phase, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordNonceConflict counts a duplicate-nonce rejection.
func (m *LnurlpMetrics) RecordNonceConflict() {
	if m == nil {
		return
	}
	m.nonceConflicts.Inc()
}

// RecordInstruction counts an issued payment instruction for a settlement layer.
func (m *LnurlpMetrics) RecordInstruction(layer string) {
	if m == nil {
		return
	}
	if layer == "" {
		layer = "lightning"
	}
	m.invoicesIssued.WithLabelValues(layer).Inc()
}

// RecordOptions records how many settlement options a discovery response carried.
func (m *LnurlpMetrics) RecordOptions(count int) {
	if m == nil {
		return
	}
	m.optionsAdvertis.Observe(float64(count))
}
