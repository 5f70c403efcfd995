package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommissionRule is an immutable, timestamped snapshot of the platform's
// commission parameters. Publishing a new rule inserts a new row; historical
// orders are always priced against the snapshot effective at completion time.
type CommissionRule struct {
	ID                   uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Rate                 decimal.Decimal `gorm:"column:rate;type:numeric(6,4);not null"`
	TaxRate              decimal.Decimal `gorm:"column:tax_rate;type:numeric(6,4);not null"`
	MinPayoutCents       int64           `gorm:"column:min_payout_cents;not null"`
	BaseDeliveryFeeCents int64           `gorm:"column:base_delivery_fee_cents;not null"`
	PerKmFeeCents        int64           `gorm:"column:per_km_fee_cents;not null"`
	EffectiveFrom        time.Time       `gorm:"column:effective_from;not null;index:ix_commission_rules_effective_from,sort:desc"`
	PublishedBy          *uuid.UUID      `gorm:"column:published_by;type:uuid"`
	CreatedAt            time.Time       `gorm:"column:created_at;autoCreateTime"`
}
