package admission

import (
	"context"
	"time"

	"github.com/hotline/admissions/internal/domain/admission"
	"github.com/hotline/admissions/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Reconciler resynchronizes persisted applications with the platform.
//
// It walks every application awaiting approval, every application awaiting
// ratification and every recently decided application that still owes side
// effects, and runs the same pipeline a live reaction would. One failing
// application never stops the pass.
type Reconciler struct {
	service *ReviewService
	logger  *zap.Logger
}

func newReconciler(s *ReviewService) *Reconciler {
	return &Reconciler{service: s, logger: s.logger.Named("reconciler")}
}

// Reconcile runs one pass. It only fails when the candidates cannot be listed
// or ctx ends; per-application failures are counted in the report.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileReport, error) {
	start := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "Reconciler", "Reconcile")
	defer span.End()

	var report ReconcileReport
	ids, err := r.candidates(ctx)
	if err == nil {
		err = r.process(ctx, ids, &report)
	}
	report.Duration = time.Since(start)

	if err != nil {
		telemetry.RecordError(span, err)
	}
	telemetry.SetAttributes(span,
		"reconcile.scanned", report.Scanned,
		"reconcile.decided", report.Decided,
		"reconcile.failed", report.Failed,
	)
	r.service.metrics.RecordReconcilePass(ctx, telemetry.ReconcileCounts{
		Scanned:       report.Scanned,
		Decided:       report.Decided,
		Recovered:     report.Recovered,
		DeniedMissing: report.DeniedMissing,
		Failed:        report.Failed,
	}, report.Duration, err)
	return report, err
}

func (r *Reconciler) process(ctx context.Context, ids []int64, report *ReconcileReport) error {
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.Scanned++

		result, err := r.service.Refresh(ctx, id, TriggerReconcile)
		switch result {
		case ResultDecided:
			report.Decided++
		case ResultRecovered:
			report.Recovered++
		case ResultDeniedMissing:
			report.DeniedMissing++
		case ResultCoalesced:
			report.Coalesced++
		}
		if err != nil {
			report.Failed++
			r.logger.Warn("Reconcile failed for application",
				zap.Int64("application_id", id),
				zap.String("result", string(result)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// candidates lists application ids in scan order without duplicates
func (r *Reconciler) candidates(ctx context.Context) ([]int64, error) {
	s := r.service
	seen := make(map[int64]bool)
	var ids []int64
	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	for _, stage := range []admission.Stage{admission.StageApproval, admission.StageRatification} {
		open, err := s.apps.FindOpen(ctx, stage)
		if err != nil {
			return nil, err
		}
		s.metrics.RecordOpenApplications(ctx, stage.String(), len(open))
		for i := range open {
			add(open[i].ID)
		}
	}

	decided, err := s.apps.FindDecidedSince(ctx, s.engine.Now().Add(-s.config.RetryWindow))
	if err != nil {
		return nil, err
	}
	for i := range decided {
		if decided[i].HasPendingEffects() {
			add(decided[i].ID)
		}
	}
	return ids, nil
}
