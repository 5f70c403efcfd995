package commission

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/souqly/settlements-backend/pkg/db/models"
)

// RuleView is the API representation of a commission rule snapshot.
type RuleView struct {
	ID                   uuid.UUID       `json:"id"`
	Rate                 decimal.Decimal `json:"rate"`
	TaxRate              decimal.Decimal `json:"tax_rate"`
	MinPayoutCents       int64           `json:"min_payout_cents"`
	BaseDeliveryFeeCents int64           `json:"base_delivery_fee_cents"`
	PerKmFeeCents        int64           `json:"per_km_fee_cents"`
	EffectiveFrom        time.Time       `json:"effective_from"`
	PublishedBy          *uuid.UUID      `json:"published_by,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// RuleList wraps rule snapshots ordered newest first.
type RuleList struct {
	Rules []RuleView `json:"rules"`
}

// NewRuleView maps a rule row to its API view.
func NewRuleView(rule *models.CommissionRule) RuleView {
	return RuleView{
		ID:                   rule.ID,
		Rate:                 rule.Rate,
		TaxRate:              rule.TaxRate,
		MinPayoutCents:       rule.MinPayoutCents,
		BaseDeliveryFeeCents: rule.BaseDeliveryFeeCents,
		PerKmFeeCents:        rule.PerKmFeeCents,
		EffectiveFrom:        rule.EffectiveFrom,
		PublishedBy:          rule.PublishedBy,
		CreatedAt:            rule.CreatedAt,
	}
}

// NewRuleList maps rule rows to their API view.
func NewRuleList(rules []models.CommissionRule) RuleList {
	list := RuleList{Rules: make([]RuleView, 0, len(rules))}
	for i := range rules {
		list.Rules = append(list.Rules, NewRuleView(&rules[i]))
	}
	return list
}
