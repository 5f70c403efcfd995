package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/souqly/settlements-backend/pkg/db/models"
	"github.com/souqly/settlements-backend/pkg/enums"
	pkgerrors "github.com/souqly/settlements-backend/pkg/errors"
	"github.com/souqly/settlements-backend/pkg/logger"
	"github.com/souqly/settlements-backend/pkg/outbox"
	"github.com/souqly/settlements-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service resolves the commission rule in force at a point in time and lets
// admins publish new snapshots. Old snapshots are never touched so replayed
// orders always price against the rule effective when they completed.
type Service interface {
	EffectiveRule(ctx context.Context, at time.Time) (*models.CommissionRule, error)
	PublishRule(ctx context.Context, input PublishRuleInput) (*models.CommissionRule, error)
	ListRules(ctx context.Context, limit int) ([]models.CommissionRule, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	logg   *logger.Logger
}

// PublishRuleInput captures a new rule snapshot from an admin.
type PublishRuleInput struct {
	Rate                 decimal.Decimal
	TaxRate              decimal.Decimal
	MinPayoutCents       int64
	BaseDeliveryFeeCents int64
	PerKmFeeCents        int64
	PublishedBy          uuid.UUID
	Actor                *outbox.ActorRef
}

// NewService wires a commission service with the provided dependencies.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("commission repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, outbox: outboxSvc, logg: logg}, nil
}

func (s *service) EffectiveRule(ctx context.Context, at time.Time) (*models.CommissionRule, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	rule, err := s.repo.FindEffectiveAt(ctx, at)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load effective rule")
	}
	if rule == nil {
		// Seeded at bootstrap; hitting this means the migration never ran.
		if s.logg != nil {
			s.logg.Error(ctx, "no commission rule effective at requested time", nil)
		}
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "no active commission rule")
	}
	return rule, nil
}

func (s *service) PublishRule(ctx context.Context, input PublishRuleInput) (*models.CommissionRule, error) {
	if err := validatePublish(input); err != nil {
		return nil, err
	}

	rule := &models.CommissionRule{
		ID:                   uuid.New(),
		Rate:                 input.Rate,
		TaxRate:              input.TaxRate,
		MinPayoutCents:       input.MinPayoutCents,
		BaseDeliveryFeeCents: input.BaseDeliveryFeeCents,
		PerKmFeeCents:        input.PerKmFeeCents,
		EffectiveFrom:        time.Now().UTC(),
		PublishedBy:          &input.PublishedBy,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, rule); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCommissionRulePublished,
			AggregateType: enums.AggregateCommissionRule,
			AggregateID:   rule.ID,
			Actor:         input.Actor,
			Version:       1,
			Data: payloads.CommissionRulePublishedEvent{
				RuleID:        rule.ID,
				Rate:          rule.Rate.String(),
				TaxRate:       rule.TaxRate.String(),
				EffectiveFrom: rule.EffectiveFrom,
				PublishedBy:   input.PublishedBy,
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish rule")
	}
	return rule, nil
}

func (s *service) ListRules(ctx context.Context, limit int) ([]models.CommissionRule, error) {
	rules, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list rules")
	}
	return rules, nil
}

func validatePublish(input PublishRuleInput) error {
	one := decimal.NewFromInt(1)
	if input.Rate.IsNegative() || input.Rate.GreaterThanOrEqual(one) {
		return pkgerrors.New(pkgerrors.CodeValidation, "rate must be in [0,1)")
	}
	if input.TaxRate.IsNegative() || input.TaxRate.GreaterThanOrEqual(one) {
		return pkgerrors.New(pkgerrors.CodeValidation, "tax rate must be in [0,1)")
	}
	if input.MinPayoutCents < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "min payout must not be negative")
	}
	if input.BaseDeliveryFeeCents < 0 || input.PerKmFeeCents < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "delivery fees must not be negative")
	}
	if input.PublishedBy == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "publisher identity required")
	}
	return nil
}
