package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/souqly/settlements-backend/pkg/db/models"
	"github.com/souqly/settlements-backend/pkg/enums"
)

// WalletSummary is the API view of an earnings account.
type WalletSummary struct {
	AccountID           uuid.UUID           `json:"account_id"`
	VendorID            uuid.UUID           `json:"vendor_id"`
	Currency            string              `json:"currency"`
	AvailableCents      int64               `json:"available_cents"`
	PendingCents        int64               `json:"pending_cents"`
	TotalEarnedCents    int64               `json:"total_earned_cents"`
	TotalWithdrawnCents int64               `json:"total_withdrawn_cents"`
	Status              enums.AccountStatus `json:"status"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// NewWalletSummary maps an account row to its API view.
func NewWalletSummary(account *models.Account) WalletSummary {
	return WalletSummary{
		AccountID:           account.ID,
		VendorID:            account.VendorID,
		Currency:            account.Currency,
		AvailableCents:      account.AvailableCents,
		PendingCents:        account.PendingCents,
		TotalEarnedCents:    account.TotalEarnedCents,
		TotalWithdrawnCents: account.TotalWithdrawnCents,
		Status:              account.Status,
		UpdatedAt:           account.UpdatedAt,
	}
}

// TransactionView exposes a single ledger entry in wallet history.
type TransactionView struct {
	ID                uuid.UUID               `json:"id"`
	Kind              enums.TransactionKind   `json:"kind"`
	Reason            enums.TransactionReason `json:"reason"`
	AmountCents       int64                   `json:"amount_cents"`
	BalanceAfterCents int64                   `json:"balance_after_cents"`
	OrderID           *uuid.UUID              `json:"order_id,omitempty"`
	PayoutID          *uuid.UUID              `json:"payout_id,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
}

// TransactionHistory wraps the paginated history plus the next page cursor.
type TransactionHistory struct {
	Transactions []TransactionView `json:"transactions"`
	NextCursor   string            `json:"next_cursor,omitempty"`
}

// NewTransactionHistory maps a repository page to its API view.
func NewTransactionHistory(list *TransactionList) TransactionHistory {
	history := TransactionHistory{
		Transactions: make([]TransactionView, 0, len(list.Items)),
		NextCursor:   list.NextCursor,
	}
	for _, txn := range list.Items {
		history.Transactions = append(history.Transactions, TransactionView{
			ID:                txn.ID,
			Kind:              txn.Kind,
			Reason:            txn.Reason,
			AmountCents:       txn.AmountCents,
			BalanceAfterCents: txn.BalanceAfterCents,
			OrderID:           txn.OrderID,
			PayoutID:          txn.PayoutID,
			CreatedAt:         txn.CreatedAt,
		})
	}
	return history
}
