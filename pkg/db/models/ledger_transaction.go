package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/souqly/settlements-backend/pkg/enums"
)

// LedgerTransaction is an immutable, append-only ledger entry. The
// idempotency key is unique so a redelivered upstream event can never produce
// a second row.
type LedgerTransaction struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID         uuid.UUID               `gorm:"column:account_id;type:uuid;not null;index"`
	Kind              enums.TransactionKind   `gorm:"column:kind;type:transaction_kind_enum;not null"`
	Reason            enums.TransactionReason `gorm:"column:reason;type:transaction_reason_enum;not null"`
	AmountCents       int64                   `gorm:"column:amount_cents;not null"`
	BalanceAfterCents int64                   `gorm:"column:balance_after_cents;not null"`
	OrderID           *uuid.UUID              `gorm:"column:order_id;type:uuid"`
	PayoutID          *uuid.UUID              `gorm:"column:payout_id;type:uuid"`
	IdempotencyKey    string                  `gorm:"column:idempotency_key;not null;uniqueIndex:ux_ledger_transactions_idempotency_key"`
	Metadata          json.RawMessage         `gorm:"column:metadata;type:jsonb"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
}
