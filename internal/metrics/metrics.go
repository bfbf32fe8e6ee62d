package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessed counts events seen on the streaming path.
	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "castellan_correlation_events_processed_total",
		Help: "Events processed by the streaming correlation path.",
	})

	// CorrelationsDetected counts detected correlations by type.
	CorrelationsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castellan_correlation_detected_total",
		Help: "Correlations detected, by correlation type.",
	}, []string{"type"})

	// FindingsEnhanced counts base findings raised by fusion.
	FindingsEnhanced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "castellan_correlation_findings_enhanced_total",
		Help: "Base findings enhanced by score fusion.",
	})

	// FindingsSynthesized counts correlation-only findings.
	FindingsSynthesized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "castellan_correlation_findings_synthesized_total",
		Help: "Correlation-only findings synthesized without a base finding.",
	})

	// BatchRuns counts batch analysis passes.
	BatchRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "castellan_correlation_batch_runs_total",
		Help: "Batch pattern-detection passes.",
	})

	// AnalysisPanics counts recovered panics at engine entry points.
	AnalysisPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "castellan_correlation_analysis_panics_total",
		Help: "Panics recovered at analysis entry points.",
	})
)
