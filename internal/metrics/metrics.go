// Package metrics holds the Prometheus collectors for the risk service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "listingrisk"

var (
	once sync.Once

	// NarrativeTotal counts fraud analyses by source (narrative, fallback, cache).
	NarrativeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "narrative",
		Name:      "analyses_total",
		Help:      "Total number of fraud analyses, labeled by the source that produced them.",
	}, []string{"source"})

	// NarrativeDurationSeconds is the completion call latency, including failed calls.
	NarrativeDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "narrative",
		Name:      "request_duration_seconds",
		Help:      "Latency of completion service calls.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
	})

	// AssessmentsTotal counts completed assessments by risk tier and label.
	AssessmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "assessment",
		Name:      "completed_total",
		Help:      "Total number of listing assessments, labeled by risk tier and fraud label.",
	}, []string{"tier", "fraud"})

	// AssessmentDurationSeconds is end-to-end assessment time.
	AssessmentDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "assessment",
		Name:      "duration_seconds",
		Help:      "End-to-end time to assess one listing.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	// TrainingRunsTotal counts training runs by result.
	TrainingRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "training",
		Name:      "runs_total",
		Help:      "Total number of classifier training runs, labeled by result.",
	}, []string{"result"})

	// ModelAccuracy is the held-out accuracy of the current model.
	ModelAccuracy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "training",
		Name:      "model_accuracy",
		Help:      "Held-out accuracy of the most recently trained classifier.",
	})

	// TrainingExamples is the size of the last dataset used for training.
	TrainingExamples = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "training",
		Name:      "examples",
		Help:      "Number of labeled examples used by the last training run.",
	})
)

// Register registers the collectors with the default registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			NarrativeTotal,
			NarrativeDurationSeconds,
			AssessmentsTotal,
			AssessmentDurationSeconds,
			TrainingRunsTotal,
			ModelAccuracy,
			TrainingExamples,
		)
	})
}
