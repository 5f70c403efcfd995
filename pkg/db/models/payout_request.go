package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/souqly/settlements-backend/pkg/enums"
)

// PayoutRequest tracks a payee's withdrawal from submission to terminal
// state. The requested amount is escrowed in the same transaction that
// inserts the row, so a persisted request always has matching held funds.
type PayoutRequest struct {
	ID              uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID       uuid.UUID          `gorm:"column:account_id;type:uuid;not null;index"`
	AmountCents     int64              `gorm:"column:amount_cents;not null"`
	BankName        string             `gorm:"column:bank_name;not null"`
	AccountNumber   string             `gorm:"column:account_number;not null"`
	AccountHolder   string             `gorm:"column:account_holder;not null"`
	Status          enums.PayoutStatus `gorm:"column:status;type:payout_status_enum;not null;default:'pending'"`
	RejectionReason *string            `gorm:"column:rejection_reason"`
	RequestedAt     time.Time          `gorm:"column:requested_at;not null"`
	ResolvedAt      *time.Time         `gorm:"column:resolved_at"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
