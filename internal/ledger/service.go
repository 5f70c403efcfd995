package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/souqly/settlements-backend/pkg/db"
	"github.com/souqly/settlements-backend/pkg/db/models"
	"github.com/souqly/settlements-backend/pkg/enums"
	pkgerrors "github.com/souqly/settlements-backend/pkg/errors"
	"github.com/souqly/settlements-backend/pkg/outbox"
	"github.com/souqly/settlements-backend/pkg/outbox/payloads"
	"github.com/souqly/settlements-backend/pkg/pagination"
)

const defaultMaxWriteAttempts = 3

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service owns every balance mutation. Each write is a single database
// transaction over one account with an optimistic version check; a lost race
// surfaces as CONFLICT and is retried up to the configured attempt budget.
type Service interface {
	OpenAccount(ctx context.Context, input OpenAccountInput) (*models.Account, error)
	DeactivateAccount(ctx context.Context, accountID uuid.UUID, reason string) error
	AccountSummary(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	AccountByVendorID(ctx context.Context, vendorID uuid.UUID) (*models.Account, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, params pagination.Params, filters TransactionFilters) (*TransactionList, error)
	TransactionByIdempotencyKey(ctx context.Context, key string) (*models.LedgerTransaction, error)

	CreditPending(ctx context.Context, input CreditPendingInput) (*models.LedgerTransaction, error)
	PromoteToAvailable(ctx context.Context, input MoveInput) (*models.LedgerTransaction, error)
	Escrow(ctx context.Context, input MoveInput) (*models.LedgerTransaction, error)
	RecordWithdrawal(ctx context.Context, input MoveInput) (*models.LedgerTransaction, error)
	ReverseEscrow(ctx context.Context, input MoveInput) (*models.LedgerTransaction, error)

	// Tx-scoped forms compose into a caller-owned transaction, e.g. payout
	// submission escrows funds and inserts the request atomically.
	EscrowTx(ctx context.Context, tx *gorm.DB, input MoveInput) (*models.LedgerTransaction, error)
	RecordWithdrawalTx(ctx context.Context, tx *gorm.DB, input MoveInput) (*models.LedgerTransaction, error)
	ReverseEscrowTx(ctx context.Context, tx *gorm.DB, input MoveInput) (*models.LedgerTransaction, error)
}

type service struct {
	repo        Repository
	tx          txRunner
	outbox      outboxPublisher
	maxAttempts int
}

// OpenAccountInput provisions a wallet for a payee from the vendor directory.
type OpenAccountInput struct {
	VendorID uuid.UUID
	Currency string
	Actor    *outbox.ActorRef
}

// CreditPendingInput records a commission split landing in pending balance.
type CreditPendingInput struct {
	AccountID      uuid.UUID
	OrderID        uuid.UUID
	AmountCents    int64
	GrossCents     int64
	CommissionRate string
	IdempotencyKey string
	Actor          *outbox.ActorRef
}

// MoveInput captures a balance movement tied to an order or payout.
type MoveInput struct {
	AccountID      uuid.UUID
	AmountCents    int64
	OrderID        *uuid.UUID
	PayoutID       *uuid.UUID
	IdempotencyKey string
	Actor          *outbox.ActorRef
}

// NewService wires the ledger service with its persistence dependencies.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher, maxWriteAttempts int) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if maxWriteAttempts <= 0 {
		maxWriteAttempts = defaultMaxWriteAttempts
	}
	return &service{
		repo:        repo,
		tx:          tx,
		outbox:      outboxSvc,
		maxAttempts: maxWriteAttempts,
	}, nil
}

func (s *service) OpenAccount(ctx context.Context, input OpenAccountInput) (*models.Account, error) {
	if input.VendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id required")
	}
	currency := input.Currency
	if currency == "" {
		currency = "SAR"
	}

	if existing, err := s.repo.FindAccountByVendorID(ctx, input.VendorID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account by vendor")
	} else if existing != nil {
		return existing, nil
	}

	account := &models.Account{
		ID:       uuid.New(),
		VendorID: input.VendorID,
		Currency: currency,
		Status:   enums.AccountStatusActive,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateAccount(ctx, account); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAccountOpened,
			AggregateType: enums.AggregateAccount,
			AggregateID:   account.ID,
			Actor:         input.Actor,
			Version:       1,
			Data: payloads.AccountOpenedEvent{
				AccountID: account.ID,
				VendorID:  account.VendorID,
				Currency:  account.Currency,
			},
		})
	})
	if err != nil {
		// Concurrent onboarding for the same vendor: return the winner's row.
		if dbpkg.IsUniqueViolation(err, "ux_accounts_vendor_id") {
			existing, findErr := s.repo.FindAccountByVendorID(ctx, input.VendorID)
			if findErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load account by vendor")
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create account")
	}
	return account, nil
}

func (s *service) DeactivateAccount(ctx context.Context, accountID uuid.UUID, reason string) error {
	if accountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	account, err := s.repo.FindAccount(ctx, accountID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	if account == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	if account.Status == enums.AccountStatusDeactivated {
		return nil
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpdateAccountStatus(ctx, accountID, enums.AccountStatusDeactivated); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deactivate account")
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAccountDeactivated,
			AggregateType: enums.AggregateAccount,
			AggregateID:   accountID,
			Version:       1,
			Data: payloads.AccountDeactivatedEvent{
				AccountID: accountID,
				VendorID:  account.VendorID,
				Reason:    reason,
			},
		})
	})
}

func (s *service) AccountSummary(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	account, err := s.repo.FindAccount(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	return account, nil
}

func (s *service) AccountByVendorID(ctx context.Context, vendorID uuid.UUID) (*models.Account, error) {
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id required")
	}
	account, err := s.repo.FindAccountByVendorID(ctx, vendorID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account by vendor")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	return account, nil
}

func (s *service) ListTransactions(ctx context.Context, accountID uuid.UUID, params pagination.Params, filters TransactionFilters) (*TransactionList, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if filters.Reason != nil && !filters.Reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction reason filter")
	}
	list, err := s.repo.ListTransactions(ctx, accountID, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}
	return list, nil
}

func (s *service) TransactionByIdempotencyKey(ctx context.Context, key string) (*models.LedgerTransaction, error) {
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}
	txn, err := s.repo.FindTransactionByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find transaction")
	}
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ledger transaction not found")
	}
	return txn, nil
}

func (s *service) CreditPending(ctx context.Context, input CreditPendingInput) (*models.LedgerTransaction, error) {
	if err := validateCredit(input); err != nil {
		return nil, err
	}
	move := moveRequest{
		accountID:      input.AccountID,
		reason:         enums.TransactionReasonOrderCommissionSplit,
		amountCents:    input.AmountCents,
		orderID:        &input.OrderID,
		idempotencyKey: input.IdempotencyKey,
		actor:          input.Actor,
		metadata: creditMetadata{
			GrossCents:     input.GrossCents,
			CommissionRate: input.CommissionRate,
		},
	}
	return s.applyWithRetry(ctx, move)
}

func (s *service) PromoteToAvailable(ctx context.Context, input MoveInput) (*models.LedgerTransaction, error) {
	return s.moveWithRetry(ctx, enums.TransactionReasonPendingRelease, input)
}

func (s *service) Escrow(ctx context.Context, input MoveInput) (*models.LedgerTransaction, error) {
	return s.moveWithRetry(ctx, enums.TransactionReasonPayoutEscrow, input)
}

func (s *service) RecordWithdrawal(ctx context.Context, input MoveInput) (*models.LedgerTransaction, error) {
	return s.moveWithRetry(ctx, enums.TransactionReasonPayoutCompleted, input)
}

func (s *service) ReverseEscrow(ctx context.Context, input MoveInput) (*models.LedgerTransaction, error) {
	return s.moveWithRetry(ctx, enums.TransactionReasonPayoutRejectedReversal, input)
}

func (s *service) EscrowTx(ctx context.Context, tx *gorm.DB, input MoveInput) (*models.LedgerTransaction, error) {
	return s.moveInTx(ctx, tx, enums.TransactionReasonPayoutEscrow, input)
}

func (s *service) RecordWithdrawalTx(ctx context.Context, tx *gorm.DB, input MoveInput) (*models.LedgerTransaction, error) {
	return s.moveInTx(ctx, tx, enums.TransactionReasonPayoutCompleted, input)
}

func (s *service) ReverseEscrowTx(ctx context.Context, tx *gorm.DB, input MoveInput) (*models.LedgerTransaction, error) {
	return s.moveInTx(ctx, tx, enums.TransactionReasonPayoutRejectedReversal, input)
}

type creditMetadata struct {
	GrossCents     int64  `json:"gross_cents"`
	CommissionRate string `json:"commission_rate,omitempty"`
}

type moveRequest struct {
	accountID      uuid.UUID
	reason         enums.TransactionReason
	amountCents    int64
	orderID        *uuid.UUID
	payoutID       *uuid.UUID
	idempotencyKey string
	actor          *outbox.ActorRef
	metadata       any
}

func validateCredit(input CreditPendingInput) error {
	if input.AccountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.IdempotencyKey == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}
	return nil
}

func validateMove(input MoveInput) error {
	if input.AccountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if input.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.IdempotencyKey == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}
	return nil
}

func (s *service) moveWithRetry(ctx context.Context, reason enums.TransactionReason, input MoveInput) (*models.LedgerTransaction, error) {
	if err := validateMove(input); err != nil {
		return nil, err
	}
	return s.applyWithRetry(ctx, moveRequest{
		accountID:      input.AccountID,
		reason:         reason,
		amountCents:    input.AmountCents,
		orderID:        input.OrderID,
		payoutID:       input.PayoutID,
		idempotencyKey: input.IdempotencyKey,
		actor:          input.Actor,
	})
}

func (s *service) moveInTx(ctx context.Context, tx *gorm.DB, reason enums.TransactionReason, input MoveInput) (*models.LedgerTransaction, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if err := validateMove(input); err != nil {
		return nil, err
	}
	return s.apply(ctx, tx, moveRequest{
		accountID:      input.AccountID,
		reason:         reason,
		amountCents:    input.AmountCents,
		orderID:        input.OrderID,
		payoutID:       input.PayoutID,
		idempotencyKey: input.IdempotencyKey,
		actor:          input.Actor,
	})
}

// applyWithRetry retries the whole transaction on optimistic-lock conflicts.
func (s *service) applyWithRetry(ctx context.Context, req moveRequest) (*models.LedgerTransaction, error) {
	var txn *models.LedgerTransaction
	var err error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var applyErr error
			txn, applyErr = s.apply(ctx, tx, req)
			return applyErr
		})
		if err == nil || !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
			return txn, err
		}
	}
	return nil, err
}

// apply performs one balance mutation inside tx. Replays detected via the
// idempotency key return the stored transaction unchanged.
func (s *service) apply(ctx context.Context, tx *gorm.DB, req moveRequest) (*models.LedgerTransaction, error) {
	repo := s.repo.WithTx(tx)

	existing, err := repo.FindTransactionByIdempotencyKey(ctx, req.idempotencyKey)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency lookup")
	}
	if existing != nil {
		return existing, nil
	}

	account, err := repo.FindAccount(ctx, req.accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	if account.Status != enums.AccountStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "account is deactivated")
	}

	updates, balanceAfter, err := planMutation(account, req.reason, req.amountCents)
	if err != nil {
		return nil, err
	}

	applied, err := repo.UpdateAccountBalances(ctx, account.ID, account.Version, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update balances")
	}
	if !applied {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "account version changed")
	}

	txn := &models.LedgerTransaction{
		ID:                uuid.New(),
		AccountID:         account.ID,
		Kind:              req.reason.Kind(),
		Reason:            req.reason,
		AmountCents:       req.amountCents,
		BalanceAfterCents: balanceAfter,
		OrderID:           req.orderID,
		PayoutID:          req.payoutID,
		IdempotencyKey:    req.idempotencyKey,
	}
	if req.metadata != nil {
		raw, marshalErr := json.Marshal(req.metadata)
		if marshalErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, marshalErr, "encode metadata")
		}
		txn.Metadata = raw
	}
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		// A racing duplicate lost to the unique key: treat as replay.
		if dbpkg.IsUniqueViolation(err, "ux_ledger_transactions_idempotency_key") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "duplicate ledger write")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert transaction")
	}

	if event, ok := s.eventFor(req, txn); ok {
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit ledger event")
		}
	}
	return txn, nil
}

// planMutation maps a reason onto balance deltas. The returned balanceAfter
// snapshots the destination balance for credits and the debited balance for
// debits.
func planMutation(account *models.Account, reason enums.TransactionReason, amount int64) (map[string]any, int64, error) {
	switch reason {
	case enums.TransactionReasonOrderCommissionSplit:
		newPending := account.PendingCents + amount
		return map[string]any{
			"pending_cents":      newPending,
			"total_earned_cents": account.TotalEarnedCents + amount,
		}, newPending, nil

	case enums.TransactionReasonPendingRelease:
		if amount > account.PendingCents {
			return nil, 0, pkgerrors.New(pkgerrors.CodeInsufficientPending, "release exceeds pending balance")
		}
		newAvailable := account.AvailableCents + amount
		return map[string]any{
			"pending_cents":   account.PendingCents - amount,
			"available_cents": newAvailable,
		}, newAvailable, nil

	case enums.TransactionReasonPayoutEscrow:
		if amount > account.AvailableCents {
			return nil, 0, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "escrow exceeds available balance")
		}
		newAvailable := account.AvailableCents - amount
		return map[string]any{
			"available_cents": newAvailable,
			"pending_cents":   account.PendingCents + amount,
		}, newAvailable, nil

	case enums.TransactionReasonPayoutCompleted:
		if amount > account.PendingCents {
			return nil, 0, pkgerrors.New(pkgerrors.CodeInsufficientPending, "withdrawal exceeds held balance")
		}
		newPending := account.PendingCents - amount
		return map[string]any{
			"pending_cents":         newPending,
			"total_withdrawn_cents": account.TotalWithdrawnCents + amount,
		}, newPending, nil

	case enums.TransactionReasonPayoutRejectedReversal:
		if amount > account.PendingCents {
			return nil, 0, pkgerrors.New(pkgerrors.CodeInsufficientPending, "reversal exceeds held balance")
		}
		newAvailable := account.AvailableCents + amount
		return map[string]any{
			"pending_cents":   account.PendingCents - amount,
			"available_cents": newAvailable,
		}, newAvailable, nil

	default:
		return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction reason %q", reason))
	}
}

// eventFor maps earning movements onto outbox events. Payout movements are
// announced by the payout service, which owns the request lifecycle.
func (s *service) eventFor(req moveRequest, txn *models.LedgerTransaction) (outbox.DomainEvent, bool) {
	switch req.reason {
	case enums.TransactionReasonOrderCommissionSplit:
		data := payloads.EarningsCreditedEvent{
			AccountID:   txn.AccountID,
			Reason:      txn.Reason,
			AmountCents: txn.AmountCents,
		}
		if txn.OrderID != nil {
			data.OrderID = *txn.OrderID
		}
		if meta, ok := req.metadata.(creditMetadata); ok {
			data.GrossCents = meta.GrossCents
			data.CommissionRate = meta.CommissionRate
		}
		return outbox.DomainEvent{
			EventType:     enums.EventEarningsCredited,
			AggregateType: enums.AggregateLedgerTransaction,
			AggregateID:   txn.ID,
			Actor:         req.actor,
			Version:       1,
			Data:          data,
		}, true

	case enums.TransactionReasonPendingRelease:
		data := payloads.EarningsReleasedEvent{
			AccountID:   txn.AccountID,
			AmountCents: txn.AmountCents,
		}
		if txn.OrderID != nil {
			data.OrderID = *txn.OrderID
		}
		return outbox.DomainEvent{
			EventType:     enums.EventEarningsReleased,
			AggregateType: enums.AggregateLedgerTransaction,
			AggregateID:   txn.ID,
			Actor:         req.actor,
			Version:       1,
			Data:          data,
		}, true
	}
	return outbox.DomainEvent{}, false
}
