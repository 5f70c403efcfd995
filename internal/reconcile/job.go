package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/souqly/settlements-backend/internal/ledger"
	"github.com/souqly/settlements-backend/pkg/config"
	"github.com/souqly/settlements-backend/pkg/db/models"
	"github.com/souqly/settlements-backend/pkg/enums"
	"github.com/souqly/settlements-backend/pkg/logger"
	"github.com/souqly/settlements-backend/pkg/metrics"
)

const defaultBatchSize = 200

// Mismatch records one balance field that diverged between the stored
// account row and its ledger replay.
type Mismatch struct {
	Field    string
	Stored   int64
	Replayed int64
}

// Drift returns the signed difference between stored and replayed values.
func (m Mismatch) Drift() int64 {
	return m.Stored - m.Replayed
}

// AccountReport holds the reconciliation outcome for a single account.
type AccountReport struct {
	AccountID  uuid.UUID
	VendorID   uuid.UUID
	Mismatches []Mismatch
}

// Clean reports whether the replay matched the stored balances exactly.
func (r AccountReport) Clean() bool {
	return len(r.Mismatches) == 0
}

// Report aggregates one full sweep across all accounts.
type Report struct {
	AccountsChecked int
	Divergent       []AccountReport
}

// Job replays every account's transaction history and compares the derived
// balances against the stored rows. It only reports: stored balances are
// never corrected automatically, a human decides what a divergence means.
type Job struct {
	repo      ledger.Repository
	logg      *logger.Logger
	metrics   *metrics.ReconcileMetrics
	batchSize int
}

// NewJob wires a reconciliation job over the ledger's persistence layer.
func NewJob(repo ledger.Repository, logg *logger.Logger, reconcileMetrics *metrics.ReconcileMetrics, cfg config.ReconcileConfig) (*Job, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Job{
		repo:      repo,
		logg:      logg,
		metrics:   reconcileMetrics,
		batchSize: batchSize,
	}, nil
}

// Run sweeps all accounts in keyset batches. Per-account replay errors are
// collected rather than aborting the sweep, so one broken history does not
// hide drift elsewhere.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	var errs error
	afterID := uuid.Nil

	for {
		accounts, err := j.repo.ListAccountsAfter(ctx, afterID, j.batchSize)
		if err != nil {
			return report, multierr.Append(errs, fmt.Errorf("list accounts: %w", err))
		}
		if len(accounts) == 0 {
			break
		}

		for i := range accounts {
			account := accounts[i]
			accountReport, err := j.checkAccount(ctx, account)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("account %s: %w", account.ID, err))
				continue
			}
			report.AccountsChecked++
			j.metrics.IncChecked()
			if !accountReport.Clean() {
				report.Divergent = append(report.Divergent, *accountReport)
				j.alert(ctx, *accountReport)
			}
		}

		afterID = accounts[len(accounts)-1].ID
		if len(accounts) < j.batchSize {
			break
		}
	}

	if j.logg != nil {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"accounts_checked": report.AccountsChecked,
			"divergent":        len(report.Divergent),
		})
		j.logg.Info(logCtx, "reconciliation sweep finished")
	}
	return report, errs
}

// checkAccount replays the full transaction history oldest-first and derives
// what the four balance fields should be today.
func (j *Job) checkAccount(ctx context.Context, account models.Account) (*AccountReport, error) {
	history, err := j.repo.ListAllTransactions(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	var available, pending, earned, withdrawn int64
	for _, txn := range history {
		switch txn.Reason {
		case enums.TransactionReasonOrderCommissionSplit:
			pending += txn.AmountCents
			earned += txn.AmountCents
		case enums.TransactionReasonPendingRelease:
			pending -= txn.AmountCents
			available += txn.AmountCents
		case enums.TransactionReasonPayoutEscrow:
			available -= txn.AmountCents
			pending += txn.AmountCents
		case enums.TransactionReasonPayoutCompleted:
			pending -= txn.AmountCents
			withdrawn += txn.AmountCents
		case enums.TransactionReasonPayoutRejectedReversal:
			pending -= txn.AmountCents
			available += txn.AmountCents
		default:
			return nil, fmt.Errorf("unknown transaction reason %q on %s", txn.Reason, txn.ID)
		}
	}

	report := &AccountReport{AccountID: account.ID, VendorID: account.VendorID}
	report.Mismatches = appendMismatch(report.Mismatches, "available", account.AvailableCents, available)
	report.Mismatches = appendMismatch(report.Mismatches, "pending", account.PendingCents, pending)
	report.Mismatches = appendMismatch(report.Mismatches, "total_earned", account.TotalEarnedCents, earned)
	report.Mismatches = appendMismatch(report.Mismatches, "total_withdrawn", account.TotalWithdrawnCents, withdrawn)

	for _, mismatch := range report.Mismatches {
		j.metrics.IncMismatch(mismatch.Field)
		j.metrics.SetDrift(mismatch.Field, mismatch.Drift())
	}
	return report, nil
}

func (j *Job) alert(ctx context.Context, report AccountReport) {
	if j.logg == nil {
		return
	}
	fields := map[string]any{
		"account_id": report.AccountID.String(),
		"vendor_id":  report.VendorID.String(),
	}
	for _, mismatch := range report.Mismatches {
		fields[mismatch.Field+"_stored"] = mismatch.Stored
		fields[mismatch.Field+"_replayed"] = mismatch.Replayed
	}
	logCtx := j.logg.WithFields(ctx, fields)
	j.logg.Error(logCtx, "account balances diverged from ledger replay", nil)
}

func appendMismatch(mismatches []Mismatch, field string, stored, replayed int64) []Mismatch {
	if stored == replayed {
		return mismatches
	}
	return append(mismatches, Mismatch{Field: field, Stored: stored, Replayed: replayed})
}
