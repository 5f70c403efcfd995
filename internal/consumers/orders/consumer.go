package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/souqly/settlements-backend/internal/commission"
	"github.com/souqly/settlements-backend/internal/ledger"
	"github.com/souqly/settlements-backend/pkg/db/models"
	pkgerrors "github.com/souqly/settlements-backend/pkg/errors"
	"github.com/souqly/settlements-backend/pkg/logger"
)

const consumerName = "settlements-orders"

const (
	eventOrderDelivered     = "order_delivered"
	eventReturnWindowClosed = "return_window_closed"
)

// OrderDelivered is published by the orders service when a courier confirms
// delivery. It starts the vendor's return-window clock.
type OrderDelivered struct {
	OrderID         uuid.UUID `json:"order_id"`
	VendorID        uuid.UUID `json:"vendor_id"`
	OrderTotalCents int64     `json:"order_total_cents"`
	DeliveredAt     time.Time `json:"delivered_at"`
}

// ReturnWindowClosed is published when the buyer's return window expires and
// the vendor's pending earnings become withdrawable.
type ReturnWindowClosed struct {
	OrderID  uuid.UUID `json:"order_id"`
	VendorID uuid.UUID `json:"vendor_id"`
}

// earningsWriter is the slice of the ledger surface the consumer drives.
type earningsWriter interface {
	OpenAccount(ctx context.Context, input ledger.OpenAccountInput) (*models.Account, error)
	AccountByVendorID(ctx context.Context, vendorID uuid.UUID) (*models.Account, error)
	TransactionByIdempotencyKey(ctx context.Context, key string) (*models.LedgerTransaction, error)
	CreditPending(ctx context.Context, input ledger.CreditPendingInput) (*models.LedgerTransaction, error)
	PromoteToAvailable(ctx context.Context, input ledger.MoveInput) (*models.LedgerTransaction, error)
}

type ruleResolver interface {
	EffectiveRule(ctx context.Context, at time.Time) (*models.CommissionRule, error)
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer turns order fulfillment events into ledger movements.
type Consumer struct {
	ledger       earningsWriter
	rules        ruleResolver
	subscription *pubsub.Subscriber
	manager      idempotencyChecker
	logg         *logger.Logger
	currency     string
}

// NewConsumer constructs a consumer that watches the orders subscription.
func NewConsumer(
	ledgerSvc earningsWriter,
	rules ruleResolver,
	subscription *pubsub.Subscriber,
	manager idempotencyChecker,
	logg *logger.Logger,
	currency string,
) (*Consumer, error) {
	if ledgerSvc == nil {
		return nil, errors.New("ledger service is required")
	}
	if rules == nil {
		return nil, errors.New("commission service is required")
	}
	if subscription == nil {
		return nil, errors.New("orders subscription is required")
	}
	if manager == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if currency == "" {
		currency = "SAR"
	}
	return &Consumer{
		ledger:       ledgerSvc,
		rules:        rules,
		subscription: subscription,
		manager:      manager,
		logg:         logg,
		currency:     currency,
	}, nil
}

// Run processes messages until the context is canceled or the subscription errors.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	fields := map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	}
	logCtx := c.logg.WithFields(ctx, fields)

	eventID, err := uuid.Parse(msg.Attributes["event_id"])
	if err != nil {
		c.logg.Warn(logCtx, "message missing usable event id")
		return processResult{}
	}
	fields["event_id"] = eventID.String()
	logCtx = c.logg.WithFields(ctx, fields)

	already, err := c.manager.CheckAndMarkProcessed(logCtx, consumerName, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{}
	}

	err = c.handle(logCtx, eventType, msg.Data)
	if err == nil {
		c.logg.Info(logCtx, "order event settled")
		return processResult{}
	}

	// Poison messages are dropped after logging; anything else is retried.
	if isPermanent(err) {
		c.logg.Error(logCtx, "dropping unprocessable order event", err)
		return processResult{}
	}
	c.logg.Error(logCtx, "order event handling failed", err)
	_ = c.manager.Delete(logCtx, consumerName, eventID)
	return processResult{nack: true}
}

func (c *Consumer) handle(ctx context.Context, eventType string, data []byte) error {
	switch eventType {
	case eventOrderDelivered:
		var event OrderDelivered
		if err := json.Unmarshal(data, &event); err != nil {
			return malformed(fmt.Errorf("decode order_delivered: %w", err))
		}
		return c.handleOrderDelivered(ctx, event)
	case eventReturnWindowClosed:
		var event ReturnWindowClosed
		if err := json.Unmarshal(data, &event); err != nil {
			return malformed(fmt.Errorf("decode return_window_closed: %w", err))
		}
		return c.handleReturnWindowClosed(ctx, event)
	default:
		return malformed(fmt.Errorf("unhandled event type %q", eventType))
	}
}

// handleOrderDelivered credits the vendor's share of the order into pending
// balance, priced against the commission rule in force at delivery time.
func (c *Consumer) handleOrderDelivered(ctx context.Context, event OrderDelivered) error {
	if event.OrderID == uuid.Nil || event.VendorID == uuid.Nil {
		return malformed(errors.New("order_delivered missing order or vendor id"))
	}
	if event.OrderTotalCents <= 0 {
		return malformed(fmt.Errorf("order_delivered carries non-positive total %d", event.OrderTotalCents))
	}

	account, err := c.resolveAccount(ctx, event.VendorID)
	if err != nil {
		return err
	}

	rule, err := c.rules.EffectiveRule(ctx, event.DeliveredAt)
	if err != nil {
		return err
	}
	split, err := commission.ComputeSplit(event.OrderTotalCents, rule)
	if err != nil {
		return malformed(err)
	}

	_, err = c.ledger.CreditPending(ctx, ledger.CreditPendingInput{
		AccountID:      account.ID,
		OrderID:        event.OrderID,
		AmountCents:    split.VendorEarnedCents,
		GrossCents:     split.OrderTotalCents,
		CommissionRate: split.Rate.String(),
		IdempotencyKey: event.OrderID.String() + ":order_commission_split",
	})
	return err
}

// handleReturnWindowClosed releases the original credit from pending to
// available. The release amount comes from the stored credit so a later rule
// change can never alter what the vendor was owed.
func (c *Consumer) handleReturnWindowClosed(ctx context.Context, event ReturnWindowClosed) error {
	if event.OrderID == uuid.Nil || event.VendorID == uuid.Nil {
		return malformed(errors.New("return_window_closed missing order or vendor id"))
	}

	account, err := c.ledger.AccountByVendorID(ctx, event.VendorID)
	if err != nil {
		return err
	}

	credit, err := c.ledger.TransactionByIdempotencyKey(ctx, event.OrderID.String()+":order_commission_split")
	if err != nil {
		// The delivery credit may still be in flight; retry the release.
		return err
	}

	_, err = c.ledger.PromoteToAvailable(ctx, ledger.MoveInput{
		AccountID:      account.ID,
		AmountCents:    credit.AmountCents,
		OrderID:        &event.OrderID,
		IdempotencyKey: event.OrderID.String() + ":pending_release",
	})
	return err
}

// resolveAccount finds the vendor's wallet, opening it on first contact so a
// delivery for a vendor not yet onboarded still lands.
func (c *Consumer) resolveAccount(ctx context.Context, vendorID uuid.UUID) (*models.Account, error) {
	account, err := c.ledger.AccountByVendorID(ctx, vendorID)
	if err == nil {
		return account, nil
	}
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		return nil, err
	}
	return c.ledger.OpenAccount(ctx, ledger.OpenAccountInput{
		VendorID: vendorID,
		Currency: c.currency,
	})
}

type malformedError struct {
	err error
}

func (e malformedError) Error() string { return e.err.Error() }

func (e malformedError) Unwrap() error { return e.err }

func malformed(err error) error {
	return malformedError{err: err}
}

// isPermanent reports whether redelivery can never succeed.
func isPermanent(err error) bool {
	var poison malformedError
	if errors.As(err, &poison) {
		return true
	}
	return pkgerrors.HasCode(err, pkgerrors.CodeValidation)
}
