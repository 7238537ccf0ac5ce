// Package metrics provides Prometheus metrics for the CultureQ API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderRequestsTotal tracks outbound calls to Plaid, Qloo and the LLM by outcome.
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cultureq",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total number of outbound provider requests",
		},
		[]string{"provider", "status"},
	)

	// ProviderRequestDuration tracks outbound provider request duration
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cultureq",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound provider requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)

	// BrandCacheLookups tracks merchant brand lookups by the layer that served them.
	BrandCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cultureq",
			Subsystem: "brand_cache",
			Name:      "lookups_total",
			Help:      "Merchant brand lookups by source (front, store, provider)",
		},
		[]string{"source"},
	)

	// ParseOutcomes tracks how model output was parsed.
	ParseOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cultureq",
			Subsystem: "llm",
			Name:      "parse_outcomes_total",
			Help:      "Model output parse outcomes by stage",
		},
		[]string{"stage", "outcome"},
	)

	BrandMatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cultureq",
			Subsystem: "matcher",
			Name:      "matches_total",
			Help:      "Total number of matched brands stored",
		},
	)

	// RedemptionsTotal tracks usage recording attempts by campaign kind and result.
	RedemptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cultureq",
			Subsystem: "offers",
			Name:      "redemptions_total",
			Help:      "Campaign usage recordings by kind and result",
		},
		[]string{"kind", "result"},
	)

	// SyncAttempts tracks bank sync polls per sync run.
	SyncAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cultureq",
			Subsystem: "plaid",
			Name:      "sync_attempts",
			Help:      "Number of sync polls used per transaction sync",
			Buckets:   []float64{1, 2, 3, 5, 8, 10, 20},
		},
	)
)
