package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/souqly/settlements-backend/pkg/enums"
)

// AccountOpenedEvent signals a new payee wallet was provisioned.
type AccountOpenedEvent struct {
	AccountID uuid.UUID        `json:"account_id"`
	VendorID  uuid.UUID        `json:"vendor_id"`
	Role      enums.MemberRole `json:"role"`
	Currency  string           `json:"currency"`
}

// AccountDeactivatedEvent is emitted when a wallet is frozen for new activity.
type AccountDeactivatedEvent struct {
	AccountID uuid.UUID `json:"account_id"`
	VendorID  uuid.UUID `json:"vendor_id"`
	Reason    string    `json:"reason,omitempty"`
}

// EarningsCreditedEvent reports a commission split landing in pending balance.
type EarningsCreditedEvent struct {
	AccountID      uuid.UUID               `json:"account_id"`
	OrderID        uuid.UUID               `json:"order_id"`
	Reason         enums.TransactionReason `json:"reason"`
	AmountCents    int64                   `json:"amount_cents"`
	GrossCents     int64                   `json:"gross_cents"`
	CommissionRate string                  `json:"commission_rate"`
}

// EarningsReleasedEvent reports pending funds moving to available.
type EarningsReleasedEvent struct {
	AccountID   uuid.UUID `json:"account_id"`
	OrderID     uuid.UUID `json:"order_id"`
	AmountCents int64     `json:"amount_cents"`
}

// PayoutRequestedEvent is emitted when a payee submits a withdrawal.
type PayoutRequestedEvent struct {
	PayoutID    uuid.UUID `json:"payout_id"`
	AccountID   uuid.UUID `json:"account_id"`
	AmountCents int64     `json:"amount_cents"`
	RequestedAt time.Time `json:"requested_at"`
}

// PayoutProcessingEvent marks a payout picked up for bank transfer.
type PayoutProcessingEvent struct {
	PayoutID  uuid.UUID `json:"payout_id"`
	AccountID uuid.UUID `json:"account_id"`
}

// PayoutCompletedEvent closes out a settled payout.
type PayoutCompletedEvent struct {
	PayoutID    uuid.UUID `json:"payout_id"`
	AccountID   uuid.UUID `json:"account_id"`
	AmountCents int64     `json:"amount_cents"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// PayoutRejectedEvent reports a rejected payout and the escrow reversal.
type PayoutRejectedEvent struct {
	PayoutID    uuid.UUID `json:"payout_id"`
	AccountID   uuid.UUID `json:"account_id"`
	AmountCents int64     `json:"amount_cents"`
	Reason      string    `json:"reason"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// CommissionRulePublishedEvent announces a new rule snapshot taking effect.
type CommissionRulePublishedEvent struct {
	RuleID        uuid.UUID `json:"rule_id"`
	Rate          string    `json:"rate"`
	TaxRate       string    `json:"tax_rate"`
	EffectiveFrom time.Time `json:"effective_from"`
	PublishedBy   uuid.UUID `json:"published_by"`
}
