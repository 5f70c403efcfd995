package enums

import "fmt"

// TransactionReason maps to the transaction_reason_enum enum in Postgres.
// Each reason corresponds to exactly one causal event in the funds lifecycle.
type TransactionReason string

const (
	// TransactionReasonOrderCommissionSplit credits a vendor's pending balance
	// with its share of a delivered order.
	TransactionReasonOrderCommissionSplit TransactionReason = "order_commission_split"
	// TransactionReasonPendingRelease moves earnings from pending to available
	// once the order's return window has closed.
	TransactionReasonPendingRelease TransactionReason = "pending_release"
	// TransactionReasonPayoutEscrow holds available funds against an in-flight
	// payout request.
	TransactionReasonPayoutEscrow TransactionReason = "payout_escrow"
	// TransactionReasonPayoutCompleted records a finalized withdrawal.
	TransactionReasonPayoutCompleted TransactionReason = "payout_completed"
	// TransactionReasonPayoutRejectedReversal returns escrowed funds after a
	// rejected payout request.
	TransactionReasonPayoutRejectedReversal TransactionReason = "payout_rejected_reversal"
)

var validTransactionReasons = []TransactionReason{
	TransactionReasonOrderCommissionSplit,
	TransactionReasonPendingRelease,
	TransactionReasonPayoutEscrow,
	TransactionReasonPayoutCompleted,
	TransactionReasonPayoutRejectedReversal,
}

// IsValid reports whether the value matches the canonical transaction reason enum.
func (r TransactionReason) IsValid() bool {
	for _, candidate := range validTransactionReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// Kind returns the ledger direction implied by the reason.
func (r TransactionReason) Kind() TransactionKind {
	switch r {
	case TransactionReasonPayoutEscrow, TransactionReasonPayoutCompleted:
		return TransactionKindDebit
	default:
		return TransactionKindCredit
	}
}

// ParseTransactionReason converts raw input into TransactionReason.
func ParseTransactionReason(value string) (TransactionReason, error) {
	for _, candidate := range validTransactionReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction reason %q", value)
}
