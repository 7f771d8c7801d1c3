package usecase

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSummary represents aggregated classification insights.
type MetricsSummary struct {
	TotalClassifications int64   `json:"total_classifications"`
	ReviewedCount        int64   `json:"reviewed_count"`
	CorrectCount         int64   `json:"correct_count"`
	Accuracy             float64 `json:"accuracy"`
	AverageConfidence    float64 `json:"average_confidence"`
	AverageLatencyMs     float64 `json:"average_latency_ms"`
}

// GetMetricsSummary aggregates classification metrics from persisted logs.
// Accuracy only counts predictions a user has reviewed.
func (uc *ClassificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalClassifications: aggregation.TotalCount,
		ReviewedCount:        aggregation.ReviewedCount,
		CorrectCount:         aggregation.CorrectCount,
		AverageConfidence:    aggregation.AverageConfidence,
		AverageLatencyMs:     aggregation.AverageLatencyMs,
	}

	if aggregation.ReviewedCount > 0 {
		summary.Accuracy = float64(aggregation.CorrectCount) / float64(aggregation.ReviewedCount)
	}

	return summary, nil
}

// Metrics holds the Prometheus collectors for the classification flow.
type Metrics struct {
	classifications *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	cacheHits       *prometheus.CounterVec
	feedback        *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "food_vision",
			Name:      "classifications_total",
			Help:      "Classification requests by model and outcome.",
		}, []string{"model", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "food_vision",
			Name:      "prediction_duration_seconds",
			Help:      "Latency of remote prediction calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "food_vision",
			Name:      "prediction_cache_hits_total",
			Help:      "Predictions served from the score cache.",
		}, []string{"model"}),
		feedback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "food_vision",
			Name:      "feedback_total",
			Help:      "User feedback on predictions.",
		}, []string{"model", "correct"}),
	}
	reg.MustRegister(m.classifications, m.latency, m.cacheHits, m.feedback)
	return m
}

func (m *Metrics) observeClassification(model, outcome string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(model, outcome).Inc()
}

func (m *Metrics) observePrediction(model string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(model).Observe(elapsed.Seconds())
}

func (m *Metrics) observeCacheHit(model string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(model).Inc()
}

func (m *Metrics) observeFeedback(model string, correct bool) {
	if m == nil {
		return
	}
	label := "false"
	if correct {
		label = "true"
	}
	m.feedback.WithLabelValues(model, label).Inc()
}
