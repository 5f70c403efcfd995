package commission

import (
	"github.com/shopspring/decimal"

	"github.com/souqly/settlements-backend/pkg/db/models"
	pkgerrors "github.com/souqly/settlements-backend/pkg/errors"
)

// Split is the commission breakdown for one completed order. All money is in
// cents; rounding uses banker's rounding so repeated splits do not drift.
type Split struct {
	OrderTotalCents   int64
	CommissionCents   int64
	VendorEarnedCents int64
	TaxCents          int64
	Rate              decimal.Decimal
	TaxRate           decimal.Decimal
}

// ComputeSplit derives the platform commission and the vendor's earning from
// an order total under the given rule snapshot. Pure; callers pick the
// snapshot effective at order completion time.
func ComputeSplit(orderTotalCents int64, rule *models.CommissionRule) (Split, error) {
	if rule == nil {
		return Split{}, pkgerrors.New(pkgerrors.CodeInternal, "commission rule required")
	}
	if orderTotalCents <= 0 {
		return Split{}, pkgerrors.New(pkgerrors.CodeValidation, "order total must be positive")
	}

	total := decimal.NewFromInt(orderTotalCents)
	commission := total.Mul(rule.Rate).RoundBank(0)
	tax := total.Mul(rule.TaxRate).RoundBank(0)

	commissionCents := commission.IntPart()
	return Split{
		OrderTotalCents:   orderTotalCents,
		CommissionCents:   commissionCents,
		VendorEarnedCents: orderTotalCents - commissionCents,
		TaxCents:          tax.IntPart(),
		Rate:              rule.Rate,
		TaxRate:           rule.TaxRate,
	}, nil
}

// DeliveryFee prices a delivery under the rule's base + per-km components.
func DeliveryFee(distanceKm decimal.Decimal, rule *models.CommissionRule) (int64, error) {
	if rule == nil {
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "commission rule required")
	}
	if distanceKm.IsNegative() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "distance must not be negative")
	}
	perKm := decimal.NewFromInt(rule.PerKmFeeCents).Mul(distanceKm).RoundBank(0)
	return rule.BaseDeliveryFeeCents + perKm.IntPart(), nil
}
