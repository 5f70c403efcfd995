package payouts

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/souqly/settlements-backend/internal/ledger"
	"github.com/souqly/settlements-backend/pkg/config"
	"github.com/souqly/settlements-backend/pkg/db/models"
	"github.com/souqly/settlements-backend/pkg/enums"
	pkgerrors "github.com/souqly/settlements-backend/pkg/errors"
	"github.com/souqly/settlements-backend/pkg/outbox"
	"github.com/souqly/settlements-backend/pkg/pagination"
)

type fakeRepository struct {
	requests map[uuid.UUID]*models.PayoutRequest

	// staleCounts makes the next N CountInFlight calls report zero, standing
	// in for a snapshot taken before a competing request committed.
	staleCounts int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{requests: make(map[uuid.UUID]*models.PayoutRequest)}
}

func (f *fakeRepository) addRequest(request *models.PayoutRequest) *models.PayoutRequest {
	if request.ID == uuid.Nil {
		request.ID = uuid.New()
	}
	f.requests[request.ID] = request
	return request
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepository) Create(ctx context.Context, request *models.PayoutRequest) error {
	f.addRequest(request)
	return nil
}

func (f *fakeRepository) Find(ctx context.Context, payoutID uuid.UUID) (*models.PayoutRequest, error) {
	request, ok := f.requests[payoutID]
	if !ok {
		return nil, nil
	}
	clone := *request
	return &clone, nil
}

func (f *fakeRepository) CountInFlight(ctx context.Context, accountID uuid.UUID) (int64, error) {
	if f.staleCounts > 0 {
		f.staleCounts--
		return 0, nil
	}
	var count int64
	for _, request := range f.requests {
		if request.AccountID != accountID {
			continue
		}
		if request.Status == enums.PayoutStatusPending || request.Status == enums.PayoutStatusProcessing {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepository) UpdateStatus(ctx context.Context, payoutID uuid.UUID, from, to enums.PayoutStatus, updates map[string]any) (bool, error) {
	request, ok := f.requests[payoutID]
	if !ok || request.Status != from {
		return false, nil
	}
	request.Status = to
	if reason, ok := updates["rejection_reason"].(string); ok {
		request.RejectionReason = &reason
	}
	if resolvedAt, ok := updates["resolved_at"].(time.Time); ok {
		request.ResolvedAt = &resolvedAt
	}
	return true, nil
}

func (f *fakeRepository) List(ctx context.Context, params pagination.Params, filters ListFilters) (*PayoutList, error) {
	list := &PayoutList{}
	for _, request := range f.requests {
		if filters.AccountID != nil && request.AccountID != *filters.AccountID {
			continue
		}
		if filters.Status != nil && request.Status != *filters.Status {
			continue
		}
		list.Items = append(list.Items, *request)
	}
	return list, nil
}

// fakeLedger records balance movements and can simulate ledger failures.
type fakeLedger struct {
	escrows     []ledger.MoveInput
	withdrawals []ledger.MoveInput
	reversals   []ledger.MoveInput

	escrowErr       error
	escrowConflicts int
	withdrawalErr   error
}

func (f *fakeLedger) EscrowTx(ctx context.Context, tx *gorm.DB, input ledger.MoveInput) (*models.LedgerTransaction, error) {
	if f.escrowErr != nil {
		return nil, f.escrowErr
	}
	if f.escrowConflicts > 0 {
		f.escrowConflicts--
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "account version changed")
	}
	f.escrows = append(f.escrows, input)
	return &models.LedgerTransaction{ID: uuid.New(), AccountID: input.AccountID, AmountCents: input.AmountCents}, nil
}

func (f *fakeLedger) RecordWithdrawalTx(ctx context.Context, tx *gorm.DB, input ledger.MoveInput) (*models.LedgerTransaction, error) {
	if f.withdrawalErr != nil {
		return nil, f.withdrawalErr
	}
	f.withdrawals = append(f.withdrawals, input)
	return &models.LedgerTransaction{ID: uuid.New(), AccountID: input.AccountID, AmountCents: input.AmountCents}, nil
}

func (f *fakeLedger) ReverseEscrowTx(ctx context.Context, tx *gorm.DB, input ledger.MoveInput) (*models.LedgerTransaction, error) {
	f.reversals = append(f.reversals, input)
	return &models.LedgerTransaction{ID: uuid.New(), AccountID: input.AccountID, AmountCents: input.AmountCents}, nil
}

type fakeRules struct {
	minPayoutCents int64
}

func (f *fakeRules) EffectiveRule(ctx context.Context, at time.Time) (*models.CommissionRule, error) {
	return &models.CommissionRule{
		ID:             uuid.New(),
		Rate:           decimal.NewFromFloat(0.10),
		TaxRate:        decimal.NewFromFloat(0.15),
		MinPayoutCents: f.minPayoutCents,
		EffectiveFrom:  time.Now().UTC().Add(-time.Hour),
	}, nil
}

type fakeTxRunner struct {
	calls int
}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	f.calls++
	return fn(&gorm.DB{})
}

type fakeOutbox struct {
	events []outbox.DomainEvent
}

func (f *fakeOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeOutbox) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	return f.Emit(ctx, tx, event)
}

type serviceFixture struct {
	svc    Service
	repo   *fakeRepository
	ledger *fakeLedger
	outbox *fakeOutbox
}

func newFixture(t *testing.T, policy config.PayoutsConfig) *serviceFixture {
	t.Helper()
	fixture := &serviceFixture{
		repo:   newFakeRepository(),
		ledger: &fakeLedger{},
		outbox: &fakeOutbox{},
	}
	svc, err := NewService(
		fixture.repo,
		fixture.ledger,
		&fakeRules{minPayoutCents: 10000},
		&fakeTxRunner{},
		fixture.outbox,
		nil,
		policy,
	)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	fixture.svc = svc
	return fixture
}

func validSubmit(accountID uuid.UUID) SubmitInput {
	return SubmitInput{
		AccountID:     accountID,
		AmountCents:   15000,
		BankName:      "Al Rajhi Bank",
		AccountNumber: "SA4420000001234567891234",
		AccountHolder: "Hala Trading Est.",
	}
}

func TestService_Submit(t *testing.T) {
	fixture := newFixture(t, config.PayoutsConfig{})
	accountID := uuid.New()

	request, err := fixture.svc.Submit(context.Background(), validSubmit(accountID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if request.Status != enums.PayoutStatusPending {
		t.Fatalf("expected pending status, got %s", request.Status)
	}
	if request.RequestedAt.IsZero() {
		t.Fatal("expected requested_at to be set")
	}

	if len(fixture.ledger.escrows) != 1 {
		t.Fatalf("expected one escrow movement, got %d", len(fixture.ledger.escrows))
	}
	escrow := fixture.ledger.escrows[0]
	if escrow.AmountCents != 15000 {
		t.Fatalf("expected escrow of 15000, got %d", escrow.AmountCents)
	}
	if escrow.IdempotencyKey != request.ID.String()+":payout_escrow" {
		t.Fatalf("unexpected escrow idempotency key %q", escrow.IdempotencyKey)
	}
	if escrow.PayoutID == nil || *escrow.PayoutID != request.ID {
		t.Fatal("expected escrow movement linked to the payout")
	}

	if len(fixture.outbox.events) != 1 || fixture.outbox.events[0].EventType != enums.EventPayoutRequested {
		t.Fatalf("expected one payout_requested event, got %+v", fixture.outbox.events)
	}
}

func TestService_SubmitBelowMinimum(t *testing.T) {
	fixture := newFixture(t, config.PayoutsConfig{})
	input := validSubmit(uuid.New())
	input.AmountCents = 9999

	_, err := fixture.svc.Submit(context.Background(), input)
	if !pkgerrors.HasCode(err, pkgerrors.CodeBelowMinimum) {
		t.Fatalf("expected BELOW_MINIMUM, got %v", err)
	}
	if len(fixture.ledger.escrows) != 0 {
		t.Fatal("expected no escrow movement")
	}
}

func TestService_SubmitRejectsSecondInFlight(t *testing.T) {
	fixture := newFixture(t, config.PayoutsConfig{})
	accountID := uuid.New()

	if _, err := fixture.svc.Submit(context.Background(), validSubmit(accountID)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := fixture.svc.Submit(context.Background(), validSubmit(accountID))
	if !pkgerrors.HasCode(err, pkgerrors.CodeDuplicateRequest) {
		t.Fatalf("expected DUPLICATE_REQUEST, got %v", err)
	}
}

func TestService_SubmitRaceLoserGetsDuplicate(t *testing.T) {
	fixture := newFixture(t, config.PayoutsConfig{})
	accountID := uuid.New()

	if _, err := fixture.svc.Submit(context.Background(), validSubmit(accountID)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A raced submit counts zero in-flight requests before the winner's row
	// is visible, then loses the account version check on escrow. The retry
	// recounts inside a fresh transaction and must surface DUPLICATE_REQUEST
	// rather than store a second request.
	fixture.repo.staleCounts = 1
	fixture.ledger.escrowConflicts = 1

	_, err := fixture.svc.Submit(context.Background(), validSubmit(accountID))
	if !pkgerrors.HasCode(err, pkgerrors.CodeDuplicateRequest) {
		t.Fatalf("expected DUPLICATE_REQUEST, got %v", err)
	}
	if len(fixture.repo.requests) != 1 {
		t.Fatalf("expected a single stored request, got %d", len(fixture.repo.requests))
	}
	if len(fixture.ledger.escrows) != 1 {
		t.Fatalf("expected a single escrow movement, got %d", len(fixture.ledger.escrows))
	}
}

func TestService_SubmitConcurrentPolicyAllowsSecond(t *testing.T) {
	fixture := newFixture(t, config.PayoutsConfig{AllowConcurrentRequests: true})
	accountID := uuid.New()

	if _, err := fixture.svc.Submit(context.Background(), validSubmit(accountID)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fixture.svc.Submit(context.Background(), validSubmit(accountID)); err != nil {
		t.Fatalf("expected concurrent request to pass, got %v", err)
	}
}

func TestService_SubmitInsufficientFunds(t *testing.T) {
	fixture := newFixture(t, config.PayoutsConfig{})
	fixture.ledger.escrowErr = pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient available balance")

	_, err := fixture.svc.Submit(context.Background(), validSubmit(uuid.New()))
	if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientFunds) {
		t.Fatalf("expected INSUFFICIENT_FUNDS, got %v", err)
	}
	if len(fixture.repo.requests) != 0 {
		t.Fatal("expected no request stored when escrow fails")
	}
}

func TestService_SubmitRetriesOnConflict(t *testing.T) {
	fixture := newFixture(t, config.PayoutsConfig{})
	fixture.ledger.escrowErr = pkgerrors.New(pkgerrors.CodeConflict, "account version changed")

	_, err := fixture.svc.Submit(context.Background(), validSubmit(uuid.New()))
	if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected CONFLICT after exhausting retries, got %v", err)
	}
}

func TestService_SubmitValidation(t *testing.T) {
	fixture := newFixture(t, config.PayoutsConfig{})
	cases := []struct {
		name   string
		mutate func(*SubmitInput)
	}{
		{"missing account", func(in *SubmitInput) { in.AccountID = uuid.Nil }},
		{"zero amount", func(in *SubmitInput) { in.AmountCents = 0 }},
		{"negative amount", func(in *SubmitInput) { in.AmountCents = -500 }},
		{"missing bank name", func(in *SubmitInput) { in.BankName = " " }},
		{"missing account number", func(in *SubmitInput) { in.AccountNumber = "" }},
		{"missing account holder", func(in *SubmitInput) { in.AccountHolder = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validSubmit(uuid.New())
			tc.mutate(&input)
			_, err := fixture.svc.Submit(context.Background(), input)
			if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}
}

func TestService_MarkProcessing(t *testing.T) {
	fixture := newFixture(t, config.PayoutsConfig{})
	stored := fixture.repo.addRequest(&models.PayoutRequest{
		AccountID:   uuid.New(),
		AmountCents: 15000,
		Status:      enums.PayoutStatusPending,
		RequestedAt: time.Now().UTC(),
	})

	request, err := fixture.svc.MarkProcessing(context.Background(), stored.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if request.Status != enums.PayoutStatusProcessing {
		t.Fatalf("expected processing status, got %s", request.Status)
	}
	if len(fixture.outbox.events) != 1 || fixture.outbox.events[0].EventType != enums.EventPayoutProcessing {
		t.Fatalf("expected payout_processing event, got %+v", fixture.outbox.events)
	}

	// A retry on an already-processing request is a safe no-op.
	again, err := fixture.svc.MarkProcessing(context.Background(), stored.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if again.Status != enums.PayoutStatusProcessing {
		t.Fatalf("expected processing status, got %s", again.Status)
	}
	if len(fixture.outbox.events) != 1 {
		t.Fatalf("expected no second event, got %d", len(fixture.outbox.events))
	}
}

func TestService_ApproveFromProcessing(t *testing.T) {
	fixture := newFixture(t, config.PayoutsConfig{})
	stored := fixture.repo.addRequest(&models.PayoutRequest{
		AccountID:   uuid.New(),
		AmountCents: 15000,
		Status:      enums.PayoutStatusProcessing,
		RequestedAt: time.Now().UTC(),
	})

	request, err := fixture.svc.Approve(context.Background(), stored.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if request.Status != enums.PayoutStatusCompleted {
		t.Fatalf("expected completed status, got %s", request.Status)
	}
	if request.ResolvedAt == nil {
		t.Fatal("expected resolved_at to be set")
	}

	if len(fixture.ledger.withdrawals) != 1 {
		t.Fatalf("expected one withdrawal movement, got %d", len(fixture.ledger.withdrawals))
	}
	withdrawal := fixture.ledger.withdrawals[0]
	if withdrawal.IdempotencyKey != stored.ID.String()+":payout_completed" {
		t.Fatalf("unexpected withdrawal idempotency key %q", withdrawal.IdempotencyKey)
	}
	if len(fixture.outbox.events) != 1 || fixture.outbox.events[0].EventType != enums.EventPayoutCompleted {
		t.Fatalf("expected payout_completed event, got %+v", fixture.outbox.events)
	}
}

func TestService_ApprovePromotesPendingDirectly(t *testing.T) {
	fixture := newFixture(t, config.PayoutsConfig{})
	stored := fixture.repo.addRequest(&models.PayoutRequest{
		AccountID:   uuid.New(),
		AmountCents: 15000,
		Status:      enums.PayoutStatusPending,
		RequestedAt: time.Now().UTC(),
	})

	request, err := fixture.svc.Approve(context.Background(), stored.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if request.Status != enums.PayoutStatusCompleted {
		t.Fatalf("expected completed status, got %s", request.Status)
	}
}

func TestService_ApproveCompletedIsNoOp(t *testing.T) {
	fixture := newFixture(t, config.PayoutsConfig{})
	resolvedAt := time.Now().UTC()
	stored := fixture.repo.addRequest(&models.PayoutRequest{
		AccountID:   uuid.New(),
		AmountCents: 15000,
		Status:      enums.PayoutStatusCompleted,
		RequestedAt: resolvedAt.Add(-time.Hour),
		ResolvedAt:  &resolvedAt,
	})

	request, err := fixture.svc.Approve(context.Background(), stored.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if request.Status != enums.PayoutStatusCompleted {
		t.Fatalf("expected completed status, got %s", request.Status)
	}
	if len(fixture.ledger.withdrawals) != 0 {
		t.Fatal("expected no second withdrawal")
	}
}

func TestService_ApproveRejectedFails(t *testing.T) {
	fixture := newFixture(t, config.PayoutsConfig{})
	stored := fixture.repo.addRequest(&models.PayoutRequest{
		AccountID:   uuid.New(),
		AmountCents: 15000,
		Status:      enums.PayoutStatusRejected,
		RequestedAt: time.Now().UTC(),
	})

	_, err := fixture.svc.Approve(context.Background(), stored.ID, nil)
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT, got %v", err)
	}
}

func TestService_Reject(t *testing.T) {
	fixture := newFixture(t, config.PayoutsConfig{})
	stored := fixture.repo.addRequest(&models.PayoutRequest{
		AccountID:   uuid.New(),
		AmountCents: 15000,
		Status:      enums.PayoutStatusProcessing,
		RequestedAt: time.Now().UTC(),
	})

	request, err := fixture.svc.Reject(context.Background(), RejectInput{
		PayoutID: stored.ID,
		Reason:   "bank account details could not be verified",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if request.Status != enums.PayoutStatusRejected {
		t.Fatalf("expected rejected status, got %s", request.Status)
	}
	if request.RejectionReason == nil || *request.RejectionReason == "" {
		t.Fatal("expected rejection reason to be recorded")
	}

	if len(fixture.ledger.reversals) != 1 {
		t.Fatalf("expected one escrow reversal, got %d", len(fixture.ledger.reversals))
	}
	reversal := fixture.ledger.reversals[0]
	if reversal.IdempotencyKey != stored.ID.String()+":payout_rejected_reversal" {
		t.Fatalf("unexpected reversal idempotency key %q", reversal.IdempotencyKey)
	}
	if len(fixture.outbox.events) != 1 || fixture.outbox.events[0].EventType != enums.EventPayoutRejected {
		t.Fatalf("expected payout_rejected event, got %+v", fixture.outbox.events)
	}
}

func TestService_RejectRequiresReason(t *testing.T) {
	fixture := newFixture(t, config.PayoutsConfig{})
	stored := fixture.repo.addRequest(&models.PayoutRequest{
		AccountID:   uuid.New(),
		AmountCents: 15000,
		Status:      enums.PayoutStatusPending,
		RequestedAt: time.Now().UTC(),
	})

	_, err := fixture.svc.Reject(context.Background(), RejectInput{PayoutID: stored.ID, Reason: "  "})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestService_RejectCompletedFails(t *testing.T) {
	fixture := newFixture(t, config.PayoutsConfig{})
	stored := fixture.repo.addRequest(&models.PayoutRequest{
		AccountID:   uuid.New(),
		AmountCents: 15000,
		Status:      enums.PayoutStatusCompleted,
		RequestedAt: time.Now().UTC(),
	})

	_, err := fixture.svc.Reject(context.Background(), RejectInput{
		PayoutID: stored.ID,
		Reason:   "too late",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT, got %v", err)
	}
	if len(fixture.ledger.reversals) != 0 {
		t.Fatal("expected no escrow reversal")
	}
}

func TestService_GetMissing(t *testing.T) {
	fixture := newFixture(t, config.PayoutsConfig{})
	_, err := fixture.svc.Get(context.Background(), uuid.New())
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestService_ListFiltersByStatus(t *testing.T) {
	fixture := newFixture(t, config.PayoutsConfig{})
	accountID := uuid.New()
	fixture.repo.addRequest(&models.PayoutRequest{AccountID: accountID, AmountCents: 15000, Status: enums.PayoutStatusPending})
	fixture.repo.addRequest(&models.PayoutRequest{AccountID: accountID, AmountCents: 20000, Status: enums.PayoutStatusCompleted})

	status := enums.PayoutStatusPending
	list, err := fixture.svc.List(context.Background(), pagination.Params{}, ListFilters{Status: &status})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].Status != enums.PayoutStatusPending {
		t.Fatalf("expected one pending request, got %+v", list.Items)
	}
}
