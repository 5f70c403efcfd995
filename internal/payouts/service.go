package payouts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/souqly/settlements-backend/internal/ledger"
	"github.com/souqly/settlements-backend/pkg/config"
	"github.com/souqly/settlements-backend/pkg/db/models"
	"github.com/souqly/settlements-backend/pkg/enums"
	pkgerrors "github.com/souqly/settlements-backend/pkg/errors"
	"github.com/souqly/settlements-backend/pkg/logger"
	"github.com/souqly/settlements-backend/pkg/outbox"
	"github.com/souqly/settlements-backend/pkg/outbox/payloads"
	"github.com/souqly/settlements-backend/pkg/pagination"
)

const defaultMaxSubmitAttempts = 3

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ledgerMover is the slice of the ledger surface this service needs: the
// tx-scoped movements that compose into a payout's own transaction.
type ledgerMover interface {
	EscrowTx(ctx context.Context, tx *gorm.DB, input ledger.MoveInput) (*models.LedgerTransaction, error)
	RecordWithdrawalTx(ctx context.Context, tx *gorm.DB, input ledger.MoveInput) (*models.LedgerTransaction, error)
	ReverseEscrowTx(ctx context.Context, tx *gorm.DB, input ledger.MoveInput) (*models.LedgerTransaction, error)
}

type ruleResolver interface {
	EffectiveRule(ctx context.Context, at time.Time) (*models.CommissionRule, error)
}

// Service runs the payout lifecycle: submission escrows funds, admins move
// requests through processing to a terminal completed or rejected state, and
// every state change settles against the ledger in the same transaction.
type Service interface {
	Submit(ctx context.Context, input SubmitInput) (*models.PayoutRequest, error)
	MarkProcessing(ctx context.Context, payoutID uuid.UUID, actor *outbox.ActorRef) (*models.PayoutRequest, error)
	Approve(ctx context.Context, payoutID uuid.UUID, actor *outbox.ActorRef) (*models.PayoutRequest, error)
	Reject(ctx context.Context, input RejectInput) (*models.PayoutRequest, error)
	Get(ctx context.Context, payoutID uuid.UUID) (*models.PayoutRequest, error)
	List(ctx context.Context, params pagination.Params, filters ListFilters) (*PayoutList, error)
}

type service struct {
	repo        Repository
	ledger      ledgerMover
	rules       ruleResolver
	tx          txRunner
	outbox      outboxPublisher
	logg        *logger.Logger
	policy      config.PayoutsConfig
	maxAttempts int
}

// SubmitInput captures a payee's withdrawal request.
type SubmitInput struct {
	AccountID     uuid.UUID
	AmountCents   int64
	BankName      string
	AccountNumber string
	AccountHolder string
	Actor         *outbox.ActorRef
}

// RejectInput records an admin's rejection with a mandatory reason.
type RejectInput struct {
	PayoutID uuid.UUID
	Reason   string
	Actor    *outbox.ActorRef
}

// NewService wires the payout service with its dependencies.
func NewService(
	repo Repository,
	ledgerSvc ledgerMover,
	rules ruleResolver,
	tx txRunner,
	outboxSvc outboxPublisher,
	logg *logger.Logger,
	policy config.PayoutsConfig,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payout repository required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if rules == nil {
		return nil, fmt.Errorf("commission service required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:        repo,
		ledger:      ledgerSvc,
		rules:       rules,
		tx:          tx,
		outbox:      outboxSvc,
		logg:        logg,
		policy:      policy,
		maxAttempts: defaultMaxSubmitAttempts,
	}, nil
}

// Submit validates the request, escrows the amount out of the available
// balance and persists the pending request in one transaction. The escrow and
// the request row commit or roll back together, so a stored request always
// has matching held funds.
func (s *service) Submit(ctx context.Context, input SubmitInput) (*models.PayoutRequest, error) {
	if err := s.validateSubmit(ctx, input); err != nil {
		return nil, err
	}

	var request *models.PayoutRequest
	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		request, lastErr = s.submitOnce(ctx, input)
		if lastErr == nil {
			return request, nil
		}
		if !pkgerrors.HasCode(lastErr, pkgerrors.CodeConflict) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (s *service) submitOnce(ctx context.Context, input SubmitInput) (*models.PayoutRequest, error) {
	now := time.Now().UTC()
	request := &models.PayoutRequest{
		ID:            uuid.New(),
		AccountID:     input.AccountID,
		AmountCents:   input.AmountCents,
		BankName:      input.BankName,
		AccountNumber: input.AccountNumber,
		AccountHolder: input.AccountHolder,
		Status:        enums.PayoutStatusPending,
		RequestedAt:   now,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		// The single-request policy rides on the escrow's account version
		// bump: two racing submits both count zero here, but only one escrow
		// commits. The loser retries in a fresh transaction and recounts
		// after the winner's row is visible.
		if !s.policy.AllowConcurrentRequests {
			inFlight, err := s.repo.WithTx(tx).CountInFlight(ctx, input.AccountID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count in-flight payouts")
			}
			if inFlight > 0 {
				return pkgerrors.New(pkgerrors.CodeDuplicateRequest, "a payout request is already in flight for this account")
			}
		}
		_, err := s.ledger.EscrowTx(ctx, tx, ledger.MoveInput{
			AccountID:      input.AccountID,
			AmountCents:    input.AmountCents,
			PayoutID:       &request.ID,
			IdempotencyKey: escrowKey(request.ID),
			Actor:          input.Actor,
		})
		if err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).Create(ctx, request); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payout request")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutRequested,
			AggregateType: enums.AggregatePayoutRequest,
			AggregateID:   request.ID,
			Actor:         input.Actor,
			Data: payloads.PayoutRequestedEvent{
				PayoutID:    request.ID,
				AccountID:   request.AccountID,
				AmountCents: request.AmountCents,
				RequestedAt: request.RequestedAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"payout_id":    request.ID.String(),
			"account_id":   request.AccountID.String(),
			"amount_cents": request.AmountCents,
		})
		s.logg.Info(logCtx, "payout requested")
	}
	return request, nil
}

// MarkProcessing moves a pending request into processing. Calling it again on
// a request already in processing is a no-op so an operator retry is safe.
func (s *service) MarkProcessing(ctx context.Context, payoutID uuid.UUID, actor *outbox.ActorRef) (*models.PayoutRequest, error) {
	request, err := s.mustFind(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if request.Status == enums.PayoutStatusProcessing {
		return request, nil
	}
	if !request.Status.CanTransitionTo(enums.PayoutStatusProcessing) {
		return nil, transitionErr(request.Status, enums.PayoutStatusProcessing)
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := s.repo.WithTx(tx).UpdateStatus(ctx, payoutID, request.Status, enums.PayoutStatusProcessing, nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark payout processing")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payout request changed state concurrently")
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutProcessing,
			AggregateType: enums.AggregatePayoutRequest,
			AggregateID:   payoutID,
			Actor:         actor,
			Data: payloads.PayoutProcessingEvent{
				PayoutID:  payoutID,
				AccountID: request.AccountID,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	request.Status = enums.PayoutStatusProcessing
	if s.logg != nil {
		logCtx := s.logg.WithPayoutID(ctx, payoutID.String())
		s.logg.Info(logCtx, "payout processing")
	}
	return request, nil
}

// Approve settles a payout: the escrowed amount becomes a withdrawal and the
// request closes as completed. A pending request is approved directly without
// an explicit processing step. Approving an already-completed request returns
// it unchanged; the withdrawal's idempotency key makes the replay harmless.
func (s *service) Approve(ctx context.Context, payoutID uuid.UUID, actor *outbox.ActorRef) (*models.PayoutRequest, error) {
	request, err := s.mustFind(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if request.Status == enums.PayoutStatusCompleted {
		return request, nil
	}
	if !request.Status.CanTransitionTo(enums.PayoutStatusCompleted) {
		return nil, transitionErr(request.Status, enums.PayoutStatusCompleted)
	}

	resolvedAt := time.Now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := s.ledger.RecordWithdrawalTx(ctx, tx, ledger.MoveInput{
			AccountID:      request.AccountID,
			AmountCents:    request.AmountCents,
			PayoutID:       &request.ID,
			IdempotencyKey: withdrawalKey(request.ID),
			Actor:          actor,
		})
		if err != nil {
			return err
		}
		moved, err := s.repo.WithTx(tx).UpdateStatus(ctx, payoutID, request.Status, enums.PayoutStatusCompleted, map[string]any{
			"resolved_at": resolvedAt,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete payout request")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payout request changed state concurrently")
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutCompleted,
			AggregateType: enums.AggregatePayoutRequest,
			AggregateID:   payoutID,
			Actor:         actor,
			Data: payloads.PayoutCompletedEvent{
				PayoutID:    payoutID,
				AccountID:   request.AccountID,
				AmountCents: request.AmountCents,
				ResolvedAt:  resolvedAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	request.Status = enums.PayoutStatusCompleted
	request.ResolvedAt = &resolvedAt
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"payout_id":    payoutID.String(),
			"account_id":   request.AccountID.String(),
			"amount_cents": request.AmountCents,
		})
		s.logg.Info(logCtx, "payout completed")
	}
	return request, nil
}

// Reject closes a payout as rejected and returns the escrowed amount to the
// available balance. A completed payout can never be rejected; the money has
// already left.
func (s *service) Reject(ctx context.Context, input RejectInput) (*models.PayoutRequest, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection reason required")
	}

	request, err := s.mustFind(ctx, input.PayoutID)
	if err != nil {
		return nil, err
	}
	if request.Status == enums.PayoutStatusRejected {
		return request, nil
	}
	if !request.Status.CanTransitionTo(enums.PayoutStatusRejected) {
		return nil, transitionErr(request.Status, enums.PayoutStatusRejected)
	}

	resolvedAt := time.Now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := s.ledger.ReverseEscrowTx(ctx, tx, ledger.MoveInput{
			AccountID:      request.AccountID,
			AmountCents:    request.AmountCents,
			PayoutID:       &request.ID,
			IdempotencyKey: reversalKey(request.ID),
			Actor:          input.Actor,
		})
		if err != nil {
			return err
		}
		moved, err := s.repo.WithTx(tx).UpdateStatus(ctx, input.PayoutID, request.Status, enums.PayoutStatusRejected, map[string]any{
			"rejection_reason": reason,
			"resolved_at":      resolvedAt,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reject payout request")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payout request changed state concurrently")
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutRejected,
			AggregateType: enums.AggregatePayoutRequest,
			AggregateID:   input.PayoutID,
			Actor:         input.Actor,
			Data: payloads.PayoutRejectedEvent{
				PayoutID:    input.PayoutID,
				AccountID:   request.AccountID,
				AmountCents: request.AmountCents,
				Reason:      reason,
				ResolvedAt:  resolvedAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	request.Status = enums.PayoutStatusRejected
	request.RejectionReason = &reason
	request.ResolvedAt = &resolvedAt
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"payout_id":  input.PayoutID.String(),
			"account_id": request.AccountID.String(),
			"reason":     reason,
		})
		s.logg.Info(logCtx, "payout rejected")
	}
	return request, nil
}

func (s *service) Get(ctx context.Context, payoutID uuid.UUID) (*models.PayoutRequest, error) {
	return s.mustFind(ctx, payoutID)
}

func (s *service) List(ctx context.Context, params pagination.Params, filters ListFilters) (*PayoutList, error) {
	list, err := s.repo.List(ctx, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payout requests")
	}
	return list, nil
}

func (s *service) validateSubmit(ctx context.Context, input SubmitInput) error {
	if input.AccountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if input.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if strings.TrimSpace(input.BankName) == "" ||
		strings.TrimSpace(input.AccountNumber) == "" ||
		strings.TrimSpace(input.AccountHolder) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "bank details required")
	}

	rule, err := s.rules.EffectiveRule(ctx, time.Time{})
	if err != nil {
		return err
	}
	if input.AmountCents < rule.MinPayoutCents {
		return pkgerrors.New(pkgerrors.CodeBelowMinimum,
			fmt.Sprintf("amount below minimum payout of %d cents", rule.MinPayoutCents))
	}
	return nil
}

func (s *service) mustFind(ctx context.Context, payoutID uuid.UUID) (*models.PayoutRequest, error) {
	if payoutID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout id required")
	}
	request, err := s.repo.Find(ctx, payoutID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find payout request")
	}
	if request == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout request not found")
	}
	return request, nil
}

func transitionErr(from, to enums.PayoutStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict,
		fmt.Sprintf("cannot move payout from %s to %s", from, to))
}

func escrowKey(payoutID uuid.UUID) string {
	return payoutID.String() + ":payout_escrow"
}

func withdrawalKey(payoutID uuid.UUID) string {
	return payoutID.String() + ":payout_completed"
}

func reversalKey(payoutID uuid.UUID) string {
	return payoutID.String() + ":payout_rejected_reversal"
}
