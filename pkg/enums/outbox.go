package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateAccount           OutboxAggregateType = "account"
	AggregateLedgerTransaction OutboxAggregateType = "ledger_transaction"
	AggregatePayoutRequest     OutboxAggregateType = "payout_request"
	AggregateCommissionRule    OutboxAggregateType = "commission_rule"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateAccount,
	AggregateLedgerTransaction,
	AggregatePayoutRequest,
	AggregateCommissionRule,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventAccountOpened           OutboxEventType = "account_opened"
	EventAccountDeactivated      OutboxEventType = "account_deactivated"
	EventEarningsCredited        OutboxEventType = "earnings_credited"
	EventEarningsReleased        OutboxEventType = "earnings_released"
	EventPayoutRequested         OutboxEventType = "payout_requested"
	EventPayoutProcessing        OutboxEventType = "payout_processing"
	EventPayoutCompleted         OutboxEventType = "payout_completed"
	EventPayoutRejected          OutboxEventType = "payout_rejected"
	EventCommissionRulePublished OutboxEventType = "commission_rule_published"
)

var validOutboxEventTypes = []OutboxEventType{
	EventAccountOpened,
	EventAccountDeactivated,
	EventEarningsCredited,
	EventEarningsReleased,
	EventPayoutRequested,
	EventPayoutProcessing,
	EventPayoutCompleted,
	EventPayoutRejected,
	EventCommissionRulePublished,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
