// Package metrics provides Prometheus metrics for the quota engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for quotagate.
type Collector struct {
	// Admission metrics
	AdmissionsTotal *prometheus.CounterVec
	DenialsTotal    *prometheus.CounterVec
	CheckDuration   prometheus.Histogram
	CheckFailures   prometheus.Counter

	// Fast-path metrics
	BucketFallbacks prometheus.Counter

	// Ledger metrics
	RecordsTotal   prometheus.Counter
	RecordFailures prometheus.Counter
	TokensRecorded *prometheus.CounterVec
}

// New creates a collector with all metrics registered on reg.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		AdmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quotagate",
				Name:      "admissions_total",
				Help:      "Admission decisions by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),
		DenialsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quotagate",
				Name:      "denials_total",
				Help:      "Denied admissions by violated window",
			},
			[]string{"window"},
		),
		CheckDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "quotagate",
				Name:      "check_duration_seconds",
				Help:      "Admission check duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2},
			},
		),
		CheckFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "quotagate",
				Name:      "check_failures_total",
				Help:      "Admission checks that failed because the ledger was unavailable",
			},
		),
		BucketFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "quotagate",
				Name:      "bucket_fallbacks_total",
				Help:      "Bucket checks served by the in-memory fallback store",
			},
		),
		RecordsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "quotagate",
				Name:      "usage_records_total",
				Help:      "Consumption events written to the ledger",
			},
		),
		RecordFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "quotagate",
				Name:      "usage_record_failures_total",
				Help:      "Ledger writes that failed after retries",
			},
		),
		TokensRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quotagate",
				Name:      "tokens_recorded_total",
				Help:      "Tokens recorded to the ledger by feature",
			},
			[]string{"feature"},
		),
	}
}
