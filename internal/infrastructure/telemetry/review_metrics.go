package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// ReviewMetrics holds the admission review instruments.
type ReviewMetrics struct {
	decisions        *Counter
	pipelineRuns     *Counter
	pipelineDuration *Histogram
	effects          *Counter
	reconcilePasses  *Counter
	reconcileResults *Counter
	passDuration     *Histogram
	openApplications *Gauge
}

// NewReviewMetrics creates the review instruments on meter
func NewReviewMetrics(meter metric.Meter) (*ReviewMetrics, error) {
	var (
		m   ReviewMetrics
		err error
	)

	if m.decisions, err = NewCounter(meter, "review_decisions_total",
		"Stage decisions taken, by stage, outcome and reason", "{decision}"); err != nil {
		return nil, err
	}
	if m.pipelineRuns, err = NewCounter(meter, "review_pipeline_runs_total",
		"Fetch-tally-decide runs, by trigger and result", "{run}"); err != nil {
		return nil, err
	}
	if m.pipelineDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "review_pipeline_duration_seconds",
		Description: "Duration of one pipeline run",
		Unit:        "s",
		Boundaries:  PipelineDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.effects, err = NewCounter(meter, "review_effects_total",
		"Side effects attempted, by effect and result", "{effect}"); err != nil {
		return nil, err
	}
	if m.reconcilePasses, err = NewCounter(meter, "review_reconcile_passes_total",
		"Reconciliation passes, by result", "{pass}"); err != nil {
		return nil, err
	}
	if m.reconcileResults, err = NewCounter(meter, "review_reconcile_applications_total",
		"Applications handled by reconciliation, by result", "{application}"); err != nil {
		return nil, err
	}
	if m.passDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "review_reconcile_duration_seconds",
		Description: "Duration of one reconciliation pass",
		Unit:        "s",
		Boundaries:  PassDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.openApplications, err = NewGauge(meter, "review_open_applications",
		"Applications still awaiting a decision, by stage", "{application}"); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordDecision counts a stage leaving AWAITING
func (m *ReviewMetrics) RecordDecision(ctx context.Context, stage, outcome, reason string) {
	m.decisions.Inc(ctx, AttrStage.String(stage), AttrOutcome.String(outcome), AttrReason.String(reason))
}

// RecordPipelineRun records one pipeline run. result is "decided", "unchanged", "updated" or "error".
func (m *ReviewMetrics) RecordPipelineRun(ctx context.Context, trigger, result string, d time.Duration) {
	m.pipelineRuns.Inc(ctx, AttrTrigger.String(trigger), AttrResult.String(result))
	m.pipelineDuration.RecordDuration(ctx, d, AttrTrigger.String(trigger))
}

// RecordEffect records a side effect attempt
func (m *ReviewMetrics) RecordEffect(ctx context.Context, effect string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.effects.Inc(ctx, AttrEffect.String(effect), AttrResult.String(result))
}

// ReconcileCounts is the per-pass breakdown reported by the reconciler
type ReconcileCounts struct {
	Scanned       int
	Decided       int
	Recovered     int
	DeniedMissing int
	Failed        int
}

// RecordReconcilePass records a finished reconciliation pass
func (m *ReviewMetrics) RecordReconcilePass(ctx context.Context, counts ReconcileCounts, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reconcilePasses.Inc(ctx, AttrResult.String(result))
	m.passDuration.RecordDuration(ctx, d)

	for name, n := range map[string]int{
		"scanned":        counts.Scanned,
		"decided":        counts.Decided,
		"recovered":      counts.Recovered,
		"denied_missing": counts.DeniedMissing,
		"failed":         counts.Failed,
	} {
		if n > 0 {
			m.reconcileResults.Add(ctx, int64(n), AttrResult.String(name))
		}
	}
}

// RecordOpenApplications records how many applications are open in stage
func (m *ReviewMetrics) RecordOpenApplications(ctx context.Context, stage string, n int) {
	m.openApplications.Record(ctx, int64(n), AttrStage.String(stage))
}
