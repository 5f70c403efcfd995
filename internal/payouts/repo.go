package payouts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/souqly/settlements-backend/pkg/db/models"
	"github.com/souqly/settlements-backend/pkg/enums"
	"github.com/souqly/settlements-backend/pkg/pagination"
)

// PayoutList carries one page of payout requests plus the next cursor.
type PayoutList struct {
	Items      []models.PayoutRequest
	NextCursor string
}

// ListFilters narrows payout listings.
type ListFilters struct {
	AccountID *uuid.UUID
	Status    *enums.PayoutStatus
}

// Repository manages persistence for payout requests.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, request *models.PayoutRequest) error
	Find(ctx context.Context, payoutID uuid.UUID) (*models.PayoutRequest, error)
	CountInFlight(ctx context.Context, accountID uuid.UUID) (int64, error)
	UpdateStatus(ctx context.Context, payoutID uuid.UUID, from, to enums.PayoutStatus, updates map[string]any) (bool, error)
	List(ctx context.Context, params pagination.Params, filters ListFilters) (*PayoutList, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payout repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, request *models.PayoutRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *repository) Find(ctx context.Context, payoutID uuid.UUID) (*models.PayoutRequest, error) {
	var request models.PayoutRequest
	err := r.db.WithContext(ctx).Where("id = ?", payoutID).First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
}

func (r *repository) CountInFlight(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PayoutRequest{}).
		Where("account_id = ? AND status IN ?", accountID, []enums.PayoutStatus{
			enums.PayoutStatusPending,
			enums.PayoutStatusProcessing,
		}).
		Count(&count).Error
	return count, err
}

// UpdateStatus transitions a payout only when it still sits in the expected
// state; a false return means another actor moved it first.
func (r *repository) UpdateStatus(ctx context.Context, payoutID uuid.UUID, from, to enums.PayoutStatus, updates map[string]any) (bool, error) {
	payload := make(map[string]any, len(updates)+2)
	for k, v := range updates {
		payload[k] = v
	}
	payload["status"] = to
	payload["updated_at"] = time.Now().UTC()

	result := r.db.WithContext(ctx).
		Model(&models.PayoutRequest{}).
		Where("id = ? AND status = ?", payoutID, from).
		Updates(payload)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) List(ctx context.Context, params pagination.Params, filters ListFilters) (*PayoutList, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).
		Model(&models.PayoutRequest{}).
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit))

	if filters.AccountID != nil {
		query = query.Where("account_id = ?", *filters.AccountID)
	}
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.PayoutRequest
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	items, hasMore := pagination.TrimPage(rows, limit)
	list := &PayoutList{Items: items}
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return list, nil
}
