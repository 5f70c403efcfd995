package cron

import (
	"context"
	"fmt"

	"github.com/souqly/settlements-backend/internal/reconcile"
)

// ReconcileJob runs the ledger reconciliation sweep on the scheduler.
type ReconcileJob struct {
	job *reconcile.Job
}

// NewReconcileJob wraps a reconciliation job for the registry.
func NewReconcileJob(job *reconcile.Job) (*ReconcileJob, error) {
	if job == nil {
		return nil, fmt.Errorf("reconcile job required")
	}
	return &ReconcileJob{job: job}, nil
}

func (j *ReconcileJob) Name() string { return "ledger_reconcile" }

// Run executes one sweep. Divergent accounts are alerted inside the sweep;
// the job itself fails only when the sweep could not complete.
func (j *ReconcileJob) Run(ctx context.Context) error {
	report, err := j.job.Run(ctx)
	if err != nil {
		return fmt.Errorf("reconcile sweep: %w", err)
	}
	if report != nil && len(report.Divergent) > 0 {
		return fmt.Errorf("reconcile sweep found %d divergent accounts", len(report.Divergent))
	}
	return nil
}
