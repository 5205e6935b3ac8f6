package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricStageDuration     = "archreview.pipeline.stage.duration.seconds"
	metricTokensReserved    = "archreview.embedding.tokens.reserved"
	metricFindingsPersisted = "archreview.findings.persisted.total"
	metricHealthScore       = "archreview.health_score"

	attrStage    = "stage"
	attrSeverity = "severity"
)

// PipelineMetrics holds OTel instruments for the Job Runner's pipeline
// stages (spec.md §4.11): per-stage duration, reserved embedding tokens,
// persisted findings by severity, and the Report's health score.
type PipelineMetrics struct {
	stageDuration     metric.Float64Histogram
	tokensReserved    metric.Int64Counter
	findingsPersisted metric.Int64Counter
	healthScore       metric.Float64Histogram
}

// NewPipelineMetrics creates pipeline metric instruments from the given
// meter.
func NewPipelineMetrics(mt metric.Meter) (*PipelineMetrics, error) {
	b := newMetricBuilder(mt)

	pm := &PipelineMetrics{
		stageDuration:     b.histogram(metricStageDuration, "Per-stage pipeline duration in seconds", "s", durationBucketBoundaries...),
		tokensReserved:    b.counter(metricTokensReserved, "Tokens reserved against the embedding rate window", "{token}"),
		findingsPersisted: b.counter(metricFindingsPersisted, "Review findings persisted, by severity", "{finding}"),
		healthScore:       b.histogram(metricHealthScore, "Report health score (0-100)", "1"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return pm, nil
}

// RecordStage records one pipeline stage's wall-clock duration. Safe to
// call on a nil receiver (no-op), matching the teacher's nil-safe metrics
// idiom so instrumentation can be skipped entirely in tests and the
// `analyze` one-shot CLI path.
func (pm *PipelineMetrics) RecordStage(ctx context.Context, stage string, seconds float64) {
	if pm == nil {
		return
	}

	pm.stageDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String(attrStage, stage)))
}

// RecordTokensReserved records tokens reserved by the Embedding Client's
// rate limiter for one batch.
func (pm *PipelineMetrics) RecordTokensReserved(ctx context.Context, tokens int64) {
	if pm == nil {
		return
	}

	pm.tokensReserved.Add(ctx, tokens)
}

// RecordFindingsPersisted records the count of ReviewFindings the
// Aggregator persisted for one Report, broken down by severity.
func (pm *PipelineMetrics) RecordFindingsPersisted(ctx context.Context, countsBySeverity map[string]int) {
	if pm == nil {
		return
	}

	for severity, count := range countsBySeverity {
		pm.findingsPersisted.Add(ctx, int64(count), metric.WithAttributes(attribute.String(attrSeverity, severity)))
	}
}

// RecordHealthScore records the Report's health score.
func (pm *PipelineMetrics) RecordHealthScore(ctx context.Context, score int) {
	if pm == nil {
		return
	}

	pm.healthScore.Record(ctx, float64(score))
}
