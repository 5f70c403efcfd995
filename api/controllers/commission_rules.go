package controllers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/souqly/settlements-backend/api/middleware"
	"github.com/souqly/settlements-backend/api/responses"
	"github.com/souqly/settlements-backend/api/validators"
	internalcommission "github.com/souqly/settlements-backend/internal/commission"
	pkgerrors "github.com/souqly/settlements-backend/pkg/errors"
	"github.com/souqly/settlements-backend/pkg/logger"
	"github.com/souqly/settlements-backend/pkg/pagination"
)

// ListCommissionRules returns rule snapshots, newest first.
func ListCommissionRules(svc internalcommission.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "commission service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rules, err := svc.ListRules(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalcommission.NewRuleList(rules))
	}
}

type publishRuleRequest struct {
	Rate                 string `json:"rate" validate:"required"`
	TaxRate              string `json:"tax_rate" validate:"required"`
	MinPayoutCents       int64  `json:"min_payout_cents" validate:"required,gt=0"`
	BaseDeliveryFeeCents int64  `json:"base_delivery_fee_cents" validate:"gte=0"`
	PerKmFeeCents        int64  `json:"per_km_fee_cents" validate:"gte=0"`
}

// PublishCommissionRule inserts a new rule snapshot effective immediately.
// Existing snapshots are never mutated.
func PublishCommissionRule(svc internalcommission.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "commission service unavailable"))
			return
		}

		var body publishRuleRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rate, err := decimal.NewFromString(body.Rate)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "rate must be a decimal"))
			return
		}
		taxRate, err := decimal.NewFromString(body.TaxRate)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "tax rate must be a decimal"))
			return
		}

		publishedBy, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated user required"))
			return
		}

		rule, err := svc.PublishRule(r.Context(), internalcommission.PublishRuleInput{
			Rate:                 rate,
			TaxRate:              taxRate,
			MinPayoutCents:       body.MinPayoutCents,
			BaseDeliveryFeeCents: body.BaseDeliveryFeeCents,
			PerKmFeeCents:        body.PerKmFeeCents,
			PublishedBy:          publishedBy,
			Actor:                actorFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, internalcommission.NewRuleView(rule))
	}
}
