package payouts

import (
	"time"

	"github.com/google/uuid"

	"github.com/souqly/settlements-backend/pkg/db/models"
	"github.com/souqly/settlements-backend/pkg/enums"
)

// PayoutView is the API representation of a payout request. The bank account
// number is masked to its last four digits everywhere it leaves the service.
type PayoutView struct {
	ID              uuid.UUID          `json:"id"`
	AccountID       uuid.UUID          `json:"account_id"`
	AmountCents     int64              `json:"amount_cents"`
	BankName        string             `json:"bank_name"`
	AccountNumber   string             `json:"account_number"`
	AccountHolder   string             `json:"account_holder"`
	Status          enums.PayoutStatus `json:"status"`
	RejectionReason *string            `json:"rejection_reason,omitempty"`
	RequestedAt     time.Time          `json:"requested_at"`
	ResolvedAt      *time.Time         `json:"resolved_at,omitempty"`
}

// PayoutQueue wraps a paginated payout listing plus the next page cursor.
type PayoutQueue struct {
	Payouts    []PayoutView `json:"payouts"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// NewPayoutView maps a payout row to its API view.
func NewPayoutView(request *models.PayoutRequest) PayoutView {
	return PayoutView{
		ID:              request.ID,
		AccountID:       request.AccountID,
		AmountCents:     request.AmountCents,
		BankName:        request.BankName,
		AccountNumber:   maskAccountNumber(request.AccountNumber),
		AccountHolder:   request.AccountHolder,
		Status:          request.Status,
		RejectionReason: request.RejectionReason,
		RequestedAt:     request.RequestedAt,
		ResolvedAt:      request.ResolvedAt,
	}
}

// NewPayoutQueue maps a repository page to its API view.
func NewPayoutQueue(list *PayoutList) PayoutQueue {
	queue := PayoutQueue{
		Payouts:    make([]PayoutView, 0, len(list.Items)),
		NextCursor: list.NextCursor,
	}
	for i := range list.Items {
		queue.Payouts = append(queue.Payouts, NewPayoutView(&list.Items[i]))
	}
	return queue
}

func maskAccountNumber(number string) string {
	const visible = 4
	if len(number) <= visible {
		return number
	}
	masked := make([]byte, len(number))
	for i := range masked {
		if i < len(number)-visible {
			masked[i] = '*'
		} else {
			masked[i] = number[i]
		}
	}
	return string(masked)
}
