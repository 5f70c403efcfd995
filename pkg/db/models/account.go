package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/souqly/settlements-backend/pkg/enums"
)

// Account holds a payee's earnings balances. Balances are mutated only
// through ledger operations; at all times
// total_earned == available + pending + total_withdrawn.
type Account struct {
	ID                  uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	VendorID            uuid.UUID           `gorm:"column:vendor_id;type:uuid;not null;uniqueIndex:ux_accounts_vendor_id"`
	Currency            string              `gorm:"column:currency;not null;default:'SAR'"`
	AvailableCents      int64               `gorm:"column:available_cents;not null;default:0"`
	PendingCents        int64               `gorm:"column:pending_cents;not null;default:0"`
	TotalEarnedCents    int64               `gorm:"column:total_earned_cents;not null;default:0"`
	TotalWithdrawnCents int64               `gorm:"column:total_withdrawn_cents;not null;default:0"`
	Version             int64               `gorm:"column:version;not null;default:0"`
	Status              enums.AccountStatus `gorm:"column:status;type:account_status_enum;not null;default:'active'"`
	CreatedAt           time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// Reconciles reports whether the stored balances reconstruct lifetime earnings.
func (a Account) Reconciles() bool {
	return a.TotalEarnedCents == a.AvailableCents+a.PendingCents+a.TotalWithdrawnCents
}
