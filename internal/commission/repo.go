package commission

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/souqly/settlements-backend/pkg/db/models"
)

// Repository manages commission rule snapshots. Rows are append-only.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, rule *models.CommissionRule) error
	FindEffectiveAt(ctx context.Context, at time.Time) (*models.CommissionRule, error)
	List(ctx context.Context, limit int) ([]models.CommissionRule, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a commission rule repository bound to the database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, rule *models.CommissionRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

func (r *repository) FindEffectiveAt(ctx context.Context, at time.Time) (*models.CommissionRule, error) {
	var rule models.CommissionRule
	err := r.db.WithContext(ctx).
		Where("effective_from <= ?", at).
		Order("effective_from DESC").
		First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

func (r *repository) List(ctx context.Context, limit int) ([]models.CommissionRule, error) {
	if limit <= 0 {
		limit = 50
	}
	var rules []models.CommissionRule
	err := r.db.WithContext(ctx).
		Order("effective_from DESC").
		Limit(limit).
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}
