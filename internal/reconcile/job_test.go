package reconcile

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/souqly/settlements-backend/internal/ledger"
	"github.com/souqly/settlements-backend/pkg/config"
	"github.com/souqly/settlements-backend/pkg/db/models"
	"github.com/souqly/settlements-backend/pkg/enums"
	"github.com/souqly/settlements-backend/pkg/pagination"
)

// fakeLedgerRepo serves only the two read paths reconciliation uses.
type fakeLedgerRepo struct {
	accounts   []models.Account
	histories  map[uuid.UUID][]models.LedgerTransaction
	historyErr map[uuid.UUID]error
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{
		histories:  make(map[uuid.UUID][]models.LedgerTransaction),
		historyErr: make(map[uuid.UUID]error),
	}
}

func (f *fakeLedgerRepo) addAccount(account models.Account, history ...models.LedgerTransaction) models.Account {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.VendorID == uuid.Nil {
		account.VendorID = uuid.New()
	}
	f.accounts = append(f.accounts, account)
	f.histories[account.ID] = history
	return account
}

func (f *fakeLedgerRepo) ListAccountsAfter(ctx context.Context, afterID uuid.UUID, limit int) ([]models.Account, error) {
	sorted := make([]models.Account, len(f.accounts))
	copy(sorted, f.accounts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID.String() < sorted[j].ID.String()
	})
	var out []models.Account
	for _, account := range sorted {
		if afterID != uuid.Nil && account.ID.String() <= afterID.String() {
			continue
		}
		out = append(out, account)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeLedgerRepo) ListAllTransactions(ctx context.Context, accountID uuid.UUID) ([]models.LedgerTransaction, error) {
	if err := f.historyErr[accountID]; err != nil {
		return nil, err
	}
	return f.histories[accountID], nil
}

func (f *fakeLedgerRepo) WithTx(tx *gorm.DB) ledger.Repository { return f }

func (f *fakeLedgerRepo) CreateAccount(ctx context.Context, account *models.Account) error {
	return errors.New("not implemented")
}

func (f *fakeLedgerRepo) FindAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLedgerRepo) FindAccountByVendorID(ctx context.Context, vendorID uuid.UUID) (*models.Account, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLedgerRepo) UpdateAccountBalances(ctx context.Context, accountID uuid.UUID, version int64, updates map[string]any) (bool, error) {
	return false, errors.New("not implemented")
}

func (f *fakeLedgerRepo) UpdateAccountStatus(ctx context.Context, accountID uuid.UUID, status enums.AccountStatus) error {
	return errors.New("not implemented")
}

func (f *fakeLedgerRepo) CreateTransaction(ctx context.Context, txn *models.LedgerTransaction) error {
	return errors.New("not implemented")
}

func (f *fakeLedgerRepo) FindTransactionByIdempotencyKey(ctx context.Context, key string) (*models.LedgerTransaction, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLedgerRepo) ListTransactions(ctx context.Context, accountID uuid.UUID, params pagination.Params, filters ledger.TransactionFilters) (*ledger.TransactionList, error) {
	return nil, errors.New("not implemented")
}

func txn(reason enums.TransactionReason, amount int64) models.LedgerTransaction {
	return models.LedgerTransaction{
		ID:          uuid.New(),
		Kind:        reason.Kind(),
		Reason:      reason,
		AmountCents: amount,
	}
}

func newTestJob(t *testing.T, repo *fakeLedgerRepo, batchSize int) *Job {
	t.Helper()
	job, err := NewJob(repo, nil, nil, config.ReconcileConfig{BatchSize: batchSize})
	if err != nil {
		t.Fatalf("unexpected job error: %v", err)
	}
	return job
}

func TestJob_CleanAccount(t *testing.T) {
	repo := newFakeLedgerRepo()
	repo.addAccount(models.Account{
		AvailableCents:      4000,
		PendingCents:        0,
		TotalEarnedCents:    10000,
		TotalWithdrawnCents: 6000,
	},
		txn(enums.TransactionReasonOrderCommissionSplit, 10000),
		txn(enums.TransactionReasonPendingRelease, 10000),
		txn(enums.TransactionReasonPayoutEscrow, 6000),
		txn(enums.TransactionReasonPayoutCompleted, 6000),
	)

	report, err := newTestJob(t, repo, 50).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.AccountsChecked != 1 {
		t.Fatalf("expected 1 account checked, got %d", report.AccountsChecked)
	}
	if len(report.Divergent) != 0 {
		t.Fatalf("expected no divergence, got %+v", report.Divergent)
	}
}

func TestJob_RejectedPayoutReplaysClean(t *testing.T) {
	repo := newFakeLedgerRepo()
	repo.addAccount(models.Account{
		AvailableCents:   10000,
		TotalEarnedCents: 10000,
	},
		txn(enums.TransactionReasonOrderCommissionSplit, 10000),
		txn(enums.TransactionReasonPendingRelease, 10000),
		txn(enums.TransactionReasonPayoutEscrow, 5000),
		txn(enums.TransactionReasonPayoutRejectedReversal, 5000),
	)

	report, err := newTestJob(t, repo, 50).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Divergent) != 0 {
		t.Fatalf("expected no divergence, got %+v", report.Divergent)
	}
}

func TestJob_DetectsDrift(t *testing.T) {
	repo := newFakeLedgerRepo()
	account := repo.addAccount(models.Account{
		AvailableCents:   9500, // history supports 10000
		TotalEarnedCents: 10000,
	},
		txn(enums.TransactionReasonOrderCommissionSplit, 10000),
		txn(enums.TransactionReasonPendingRelease, 10000),
	)

	report, err := newTestJob(t, repo, 50).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Divergent) != 1 {
		t.Fatalf("expected one divergent account, got %d", len(report.Divergent))
	}
	divergent := report.Divergent[0]
	if divergent.AccountID != account.ID {
		t.Fatalf("unexpected account %s", divergent.AccountID)
	}
	if len(divergent.Mismatches) != 1 {
		t.Fatalf("expected one mismatch, got %+v", divergent.Mismatches)
	}
	mismatch := divergent.Mismatches[0]
	if mismatch.Field != "available" || mismatch.Stored != 9500 || mismatch.Replayed != 10000 {
		t.Fatalf("unexpected mismatch %+v", mismatch)
	}
	if mismatch.Drift() != -500 {
		t.Fatalf("expected drift of -500, got %d", mismatch.Drift())
	}

	// Reporting never mutates the stored row.
	stored := repo.accounts[0]
	if stored.AvailableCents != 9500 {
		t.Fatalf("stored balance must stay untouched, got %d", stored.AvailableCents)
	}
}

func TestJob_BatchesAcrossAccounts(t *testing.T) {
	repo := newFakeLedgerRepo()
	for i := 0; i < 5; i++ {
		repo.addAccount(models.Account{
			PendingCents:     1000,
			TotalEarnedCents: 1000,
		}, txn(enums.TransactionReasonOrderCommissionSplit, 1000))
	}

	report, err := newTestJob(t, repo, 2).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.AccountsChecked != 5 {
		t.Fatalf("expected 5 accounts checked across batches, got %d", report.AccountsChecked)
	}
}

func TestJob_HistoryErrorDoesNotAbortSweep(t *testing.T) {
	repo := newFakeLedgerRepo()
	broken := repo.addAccount(models.Account{TotalEarnedCents: 100})
	repo.historyErr[broken.ID] = errors.New("history unavailable")
	repo.addAccount(models.Account{
		PendingCents:     1000,
		TotalEarnedCents: 1000,
	}, txn(enums.TransactionReasonOrderCommissionSplit, 1000))

	report, err := newTestJob(t, repo, 50).Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error for broken history")
	}
	if report.AccountsChecked != 1 {
		t.Fatalf("expected the healthy account still checked, got %d", report.AccountsChecked)
	}
}
