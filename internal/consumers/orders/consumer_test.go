package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/souqly/settlements-backend/internal/ledger"
	"github.com/souqly/settlements-backend/pkg/db/models"
	pkgerrors "github.com/souqly/settlements-backend/pkg/errors"
	"github.com/souqly/settlements-backend/pkg/logger"
)

type stubLedger struct {
	accountsByVendor map[uuid.UUID]*models.Account
	transactions     map[string]*models.LedgerTransaction

	opened   []ledger.OpenAccountInput
	credits  []ledger.CreditPendingInput
	releases []ledger.MoveInput

	creditErr  error
	releaseErr error
}

func newStubLedger() *stubLedger {
	return &stubLedger{
		accountsByVendor: make(map[uuid.UUID]*models.Account),
		transactions:     make(map[string]*models.LedgerTransaction),
	}
}

func (s *stubLedger) addAccount(vendorID uuid.UUID) *models.Account {
	account := &models.Account{ID: uuid.New(), VendorID: vendorID, Currency: "SAR"}
	s.accountsByVendor[vendorID] = account
	return account
}

func (s *stubLedger) OpenAccount(ctx context.Context, input ledger.OpenAccountInput) (*models.Account, error) {
	s.opened = append(s.opened, input)
	return s.addAccount(input.VendorID), nil
}

func (s *stubLedger) AccountByVendorID(ctx context.Context, vendorID uuid.UUID) (*models.Account, error) {
	account, ok := s.accountsByVendor[vendorID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "earnings account not found")
	}
	return account, nil
}

func (s *stubLedger) TransactionByIdempotencyKey(ctx context.Context, key string) (*models.LedgerTransaction, error) {
	txn, ok := s.transactions[key]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ledger transaction not found")
	}
	return txn, nil
}

func (s *stubLedger) CreditPending(ctx context.Context, input ledger.CreditPendingInput) (*models.LedgerTransaction, error) {
	if s.creditErr != nil {
		return nil, s.creditErr
	}
	s.credits = append(s.credits, input)
	txn := &models.LedgerTransaction{
		ID:             uuid.New(),
		AccountID:      input.AccountID,
		AmountCents:    input.AmountCents,
		IdempotencyKey: input.IdempotencyKey,
	}
	s.transactions[input.IdempotencyKey] = txn
	return txn, nil
}

func (s *stubLedger) PromoteToAvailable(ctx context.Context, input ledger.MoveInput) (*models.LedgerTransaction, error) {
	if s.releaseErr != nil {
		return nil, s.releaseErr
	}
	s.releases = append(s.releases, input)
	return &models.LedgerTransaction{ID: uuid.New(), AccountID: input.AccountID, AmountCents: input.AmountCents}, nil
}

type stubRules struct {
	lookups []time.Time
	err     error
}

func (s *stubRules) EffectiveRule(ctx context.Context, at time.Time) (*models.CommissionRule, error) {
	s.lookups = append(s.lookups, at)
	if s.err != nil {
		return nil, s.err
	}
	return &models.CommissionRule{
		ID:      uuid.New(),
		Rate:    decimal.NewFromFloat(0.10),
		TaxRate: decimal.NewFromFloat(0.15),
	}, nil
}

type stubManager struct {
	processed map[uuid.UUID]bool
	checkErr  error
	deleted   []uuid.UUID
}

func newStubManager() *stubManager {
	return &stubManager{processed: make(map[uuid.UUID]bool)}
}

func (s *stubManager) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	if s.checkErr != nil {
		return false, s.checkErr
	}
	if s.processed[eventID] {
		return true, nil
	}
	s.processed[eventID] = true
	return false, nil
}

func (s *stubManager) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	s.deleted = append(s.deleted, eventID)
	delete(s.processed, eventID)
	return nil
}

type consumerFixture struct {
	consumer *Consumer
	ledger   *stubLedger
	rules    *stubRules
	manager  *stubManager
}

func newConsumerFixture(t *testing.T) *consumerFixture {
	t.Helper()
	fixture := &consumerFixture{
		ledger:  newStubLedger(),
		rules:   &stubRules{},
		manager: newStubManager(),
	}
	consumer, err := NewConsumer(
		fixture.ledger,
		fixture.rules,
		&pubsub.Subscriber{},
		fixture.manager,
		logger.New(logger.Options{ServiceName: "orders-test"}),
		"SAR",
	)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	fixture.consumer = consumer
	return fixture
}

func buildMessage(t *testing.T, eventType string, payload any) *pubsub.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &pubsub.Message{
		ID:   "m-1",
		Data: data,
		Attributes: map[string]string{
			"event_type": eventType,
			"event_id":   uuid.NewString(),
		},
	}
}

func TestConsumerCreditsDeliveredOrder(t *testing.T) {
	fixture := newConsumerFixture(t)
	vendorID := uuid.New()
	account := fixture.ledger.addAccount(vendorID)
	orderID := uuid.New()
	deliveredAt := time.Now().UTC().Add(-time.Hour)

	msg := buildMessage(t, eventOrderDelivered, OrderDelivered{
		OrderID:         orderID,
		VendorID:        vendorID,
		OrderTotalCents: 10000,
		DeliveredAt:     deliveredAt,
	})
	result := fixture.consumer.process(context.Background(), msg)
	if result.nack {
		t.Fatal("expected ack")
	}

	if len(fixture.ledger.credits) != 1 {
		t.Fatalf("expected one credit, got %d", len(fixture.ledger.credits))
	}
	credit := fixture.ledger.credits[0]
	if credit.AccountID != account.ID {
		t.Fatalf("credited wrong account %s", credit.AccountID)
	}
	// 10% commission on 10000 leaves the vendor 9000.
	if credit.AmountCents != 9000 {
		t.Fatalf("expected vendor share of 9000, got %d", credit.AmountCents)
	}
	if credit.GrossCents != 10000 {
		t.Fatalf("expected gross of 10000, got %d", credit.GrossCents)
	}
	if credit.IdempotencyKey != orderID.String()+":order_commission_split" {
		t.Fatalf("unexpected idempotency key %q", credit.IdempotencyKey)
	}

	// The rule is resolved at delivery time, not processing time.
	if len(fixture.rules.lookups) != 1 || !fixture.rules.lookups[0].Equal(deliveredAt) {
		t.Fatalf("expected rule lookup at delivery time, got %+v", fixture.rules.lookups)
	}
}

func TestConsumerOpensAccountOnFirstDelivery(t *testing.T) {
	fixture := newConsumerFixture(t)
	vendorID := uuid.New()

	msg := buildMessage(t, eventOrderDelivered, OrderDelivered{
		OrderID:         uuid.New(),
		VendorID:        vendorID,
		OrderTotalCents: 5000,
		DeliveredAt:     time.Now().UTC(),
	})
	result := fixture.consumer.process(context.Background(), msg)
	if result.nack {
		t.Fatal("expected ack")
	}
	if len(fixture.ledger.opened) != 1 || fixture.ledger.opened[0].VendorID != vendorID {
		t.Fatalf("expected account opened for vendor, got %+v", fixture.ledger.opened)
	}
	if len(fixture.ledger.credits) != 1 {
		t.Fatalf("expected credit after opening, got %d", len(fixture.ledger.credits))
	}
}

func TestConsumerRedeliveryCreditsOnce(t *testing.T) {
	fixture := newConsumerFixture(t)
	vendorID := uuid.New()
	fixture.ledger.addAccount(vendorID)

	msg := buildMessage(t, eventOrderDelivered, OrderDelivered{
		OrderID:         uuid.New(),
		VendorID:        vendorID,
		OrderTotalCents: 10000,
		DeliveredAt:     time.Now().UTC(),
	})

	first := fixture.consumer.process(context.Background(), msg)
	second := fixture.consumer.process(context.Background(), msg)
	if first.nack || second.nack {
		t.Fatal("expected both deliveries acked")
	}
	if len(fixture.ledger.credits) != 1 {
		t.Fatalf("expected exactly one credit, got %d", len(fixture.ledger.credits))
	}
}

func TestConsumerReleasesOnReturnWindowClose(t *testing.T) {
	fixture := newConsumerFixture(t)
	vendorID := uuid.New()
	account := fixture.ledger.addAccount(vendorID)
	orderID := uuid.New()
	fixture.ledger.transactions[orderID.String()+":order_commission_split"] = &models.LedgerTransaction{
		ID:          uuid.New(),
		AccountID:   account.ID,
		AmountCents: 9000,
	}

	msg := buildMessage(t, eventReturnWindowClosed, ReturnWindowClosed{
		OrderID:  orderID,
		VendorID: vendorID,
	})
	result := fixture.consumer.process(context.Background(), msg)
	if result.nack {
		t.Fatal("expected ack")
	}

	if len(fixture.ledger.releases) != 1 {
		t.Fatalf("expected one release, got %d", len(fixture.ledger.releases))
	}
	release := fixture.ledger.releases[0]
	if release.AmountCents != 9000 {
		t.Fatalf("expected release of the stored credit amount, got %d", release.AmountCents)
	}
	if release.IdempotencyKey != orderID.String()+":pending_release" {
		t.Fatalf("unexpected idempotency key %q", release.IdempotencyKey)
	}
}

func TestConsumerNacksWhenCreditNotYetLanded(t *testing.T) {
	fixture := newConsumerFixture(t)
	vendorID := uuid.New()
	fixture.ledger.addAccount(vendorID)

	msg := buildMessage(t, eventReturnWindowClosed, ReturnWindowClosed{
		OrderID:  uuid.New(),
		VendorID: vendorID,
	})
	result := fixture.consumer.process(context.Background(), msg)
	if !result.nack {
		t.Fatal("expected nack so the release is retried after the credit lands")
	}
	if len(fixture.manager.deleted) != 1 {
		t.Fatal("expected processed mark cleared for retry")
	}
}

func TestConsumerAcksMalformedPayload(t *testing.T) {
	fixture := newConsumerFixture(t)
	msg := &pubsub.Message{
		ID:   "m-2",
		Data: []byte("not json"),
		Attributes: map[string]string{
			"event_type": eventOrderDelivered,
			"event_id":   uuid.NewString(),
		},
	}
	result := fixture.consumer.process(context.Background(), msg)
	if result.nack {
		t.Fatal("expected poison message acked")
	}
	if len(fixture.ledger.credits) != 0 {
		t.Fatal("expected no credit")
	}
}

func TestConsumerAcksUnknownEventType(t *testing.T) {
	fixture := newConsumerFixture(t)
	msg := buildMessage(t, "order_created", map[string]any{"order_id": uuid.NewString()})
	result := fixture.consumer.process(context.Background(), msg)
	if result.nack {
		t.Fatal("expected unknown event acked")
	}
}

func TestConsumerAcksMissingEventID(t *testing.T) {
	fixture := newConsumerFixture(t)
	msg := &pubsub.Message{
		ID:         "m-3",
		Data:       []byte("{}"),
		Attributes: map[string]string{"event_type": eventOrderDelivered},
	}
	result := fixture.consumer.process(context.Background(), msg)
	if result.nack {
		t.Fatal("expected message without event id acked")
	}
}

func TestConsumerNacksTransientErrors(t *testing.T) {
	fixture := newConsumerFixture(t)
	vendorID := uuid.New()
	fixture.ledger.addAccount(vendorID)
	fixture.ledger.creditErr = pkgerrors.New(pkgerrors.CodeDependency, "database unavailable")

	msg := buildMessage(t, eventOrderDelivered, OrderDelivered{
		OrderID:         uuid.New(),
		VendorID:        vendorID,
		OrderTotalCents: 10000,
		DeliveredAt:     time.Now().UTC(),
	})
	result := fixture.consumer.process(context.Background(), msg)
	if !result.nack {
		t.Fatal("expected nack on transient error")
	}
}

func TestConsumerNacksIdempotencyOutage(t *testing.T) {
	fixture := newConsumerFixture(t)
	fixture.manager.checkErr = errors.New("redis down")

	msg := buildMessage(t, eventOrderDelivered, OrderDelivered{
		OrderID:         uuid.New(),
		VendorID:        uuid.New(),
		OrderTotalCents: 10000,
		DeliveredAt:     time.Now().UTC(),
	})
	result := fixture.consumer.process(context.Background(), msg)
	if !result.nack {
		t.Fatal("expected nack when idempotency store is down")
	}
}
