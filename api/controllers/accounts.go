package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/souqly/settlements-backend/api/responses"
	"github.com/souqly/settlements-backend/api/validators"
	internalledger "github.com/souqly/settlements-backend/internal/ledger"
	pkgerrors "github.com/souqly/settlements-backend/pkg/errors"
	"github.com/souqly/settlements-backend/pkg/logger"
)

type openAccountRequest struct {
	VendorID string `json:"vendor_id" validate:"required,uuid"`
	Currency string `json:"currency"`
}

// OpenAccount provisions an earnings account for a payee. Opening is
// idempotent per vendor: a second call returns the existing account.
func OpenAccount(svc internalledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		var body openAccountRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		vendorID, err := uuid.Parse(body.VendorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid vendor id"))
			return
		}

		account, err := svc.OpenAccount(r.Context(), internalledger.OpenAccountInput{
			VendorID: vendorID,
			Currency: body.Currency,
			Actor:    actorFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, internalledger.NewWalletSummary(account))
	}
}

type deactivateAccountRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// DeactivateAccount freezes an earnings account. Balances are preserved;
// further payout submissions are refused.
func DeactivateAccount(svc internalledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		accountID, err := parseAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body deactivateAccountRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.DeactivateAccount(r.Context(), accountID, body.Reason); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "deactivated"})
	}
}

func parseAccountID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "accountId")
	accountID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid account id")
	}
	return accountID, nil
}

// AdminAccountSummary returns any account's balances for support review.
func AdminAccountSummary(svc internalledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		accountID, err := parseAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		account, err := svc.AccountSummary(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalledger.NewWalletSummary(account))
	}
}
