package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/souqly/settlements-backend/pkg/db/models"
	"github.com/souqly/settlements-backend/pkg/enums"
	"github.com/souqly/settlements-backend/pkg/pagination"
)

// TransactionList carries one page of ledger history plus the next cursor.
type TransactionList struct {
	Items      []models.LedgerTransaction
	NextCursor string
}

// TransactionFilters narrows ledger history listings.
type TransactionFilters struct {
	Reason *enums.TransactionReason
}

// Repository manages persistence for accounts and their ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateAccount(ctx context.Context, account *models.Account) error
	FindAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	FindAccountByVendorID(ctx context.Context, vendorID uuid.UUID) (*models.Account, error)
	UpdateAccountBalances(ctx context.Context, accountID uuid.UUID, version int64, updates map[string]any) (bool, error)
	UpdateAccountStatus(ctx context.Context, accountID uuid.UUID, status enums.AccountStatus) error
	ListAccountsAfter(ctx context.Context, afterID uuid.UUID, limit int) ([]models.Account, error)
	CreateTransaction(ctx context.Context, txn *models.LedgerTransaction) error
	FindTransactionByIdempotencyKey(ctx context.Context, key string) (*models.LedgerTransaction, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, params pagination.Params, filters TransactionFilters) (*TransactionList, error)
	ListAllTransactions(ctx context.Context, accountID uuid.UUID) ([]models.LedgerTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateAccount(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *repository) FindAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).Where("id = ?", accountID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindAccountByVendorID(ctx context.Context, vendorID uuid.UUID) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).Where("vendor_id = ?", vendorID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// UpdateAccountBalances applies the balance mutation only when the stored
// version still matches. A false return means another writer won the race.
func (r *repository) UpdateAccountBalances(ctx context.Context, accountID uuid.UUID, version int64, updates map[string]any) (bool, error) {
	payload := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		payload[k] = v
	}
	payload["version"] = version + 1

	result := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND version = ?", accountID, version).
		Updates(payload)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) UpdateAccountStatus(ctx context.Context, accountID uuid.UUID, status enums.AccountStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", accountID).
		Update("status", status).Error
}

func (r *repository) ListAccountsAfter(ctx context.Context, afterID uuid.UUID, limit int) ([]models.Account, error) {
	query := r.db.WithContext(ctx).Order("id ASC").Limit(limit)
	if afterID != uuid.Nil {
		query = query.Where("id > ?", afterID)
	}
	var accounts []models.Account
	if err := query.Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.LedgerTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindTransactionByIdempotencyKey(ctx context.Context, key string) (*models.LedgerTransaction, error) {
	var txn models.LedgerTransaction
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

func (r *repository) ListTransactions(ctx context.Context, accountID uuid.UUID, params pagination.Params, filters TransactionFilters) (*TransactionList, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit))

	if filters.Reason != nil {
		query = query.Where("reason = ?", *filters.Reason)
	}
	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.LedgerTransaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	items, hasMore := pagination.TrimPage(rows, limit)
	list := &TransactionList{Items: items}
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return list, nil
}

// ListAllTransactions returns the complete history oldest-first for replay.
func (r *repository) ListAllTransactions(ctx context.Context, accountID uuid.UUID) ([]models.LedgerTransaction, error) {
	var rows []models.LedgerTransaction
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
