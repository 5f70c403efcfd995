package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/souqly/settlements-backend/internal/commission"
	"github.com/souqly/settlements-backend/internal/ledger"
	"github.com/souqly/settlements-backend/internal/payouts"
	pkgauth "github.com/souqly/settlements-backend/pkg/auth"
	"github.com/souqly/settlements-backend/pkg/config"
	"github.com/souqly/settlements-backend/pkg/db/models"
	"github.com/souqly/settlements-backend/pkg/enums"
	"github.com/souqly/settlements-backend/pkg/logger"
	"github.com/souqly/settlements-backend/pkg/outbox"
	"github.com/souqly/settlements-backend/pkg/pagination"
	"github.com/souqly/settlements-backend/pkg/redis"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubLedgerService struct {
	summary func(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
}

func (s stubLedgerService) AccountSummary(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	if s.summary != nil {
		return s.summary(ctx, accountID)
	}
	return &models.Account{ID: accountID, VendorID: uuid.New(), Currency: "SAR", Status: enums.AccountStatusActive}, nil
}

func (stubLedgerService) OpenAccount(ctx context.Context, input ledger.OpenAccountInput) (*models.Account, error) {
	return &models.Account{ID: uuid.New(), VendorID: input.VendorID, Currency: "SAR", Status: enums.AccountStatusActive}, nil
}

func (stubLedgerService) DeactivateAccount(ctx context.Context, accountID uuid.UUID, reason string) error {
	return nil
}

func (stubLedgerService) AccountByVendorID(ctx context.Context, vendorID uuid.UUID) (*models.Account, error) {
	return nil, fmt.Errorf("not implemented")
}

func (stubLedgerService) ListTransactions(ctx context.Context, accountID uuid.UUID, params pagination.Params, filters ledger.TransactionFilters) (*ledger.TransactionList, error) {
	return &ledger.TransactionList{}, nil
}

func (stubLedgerService) TransactionByIdempotencyKey(ctx context.Context, key string) (*models.LedgerTransaction, error) {
	return nil, fmt.Errorf("not implemented")
}

func (stubLedgerService) CreditPending(ctx context.Context, input ledger.CreditPendingInput) (*models.LedgerTransaction, error) {
	return nil, fmt.Errorf("not implemented")
}

func (stubLedgerService) PromoteToAvailable(ctx context.Context, input ledger.MoveInput) (*models.LedgerTransaction, error) {
	return nil, fmt.Errorf("not implemented")
}

func (stubLedgerService) Escrow(ctx context.Context, input ledger.MoveInput) (*models.LedgerTransaction, error) {
	return nil, fmt.Errorf("not implemented")
}

func (stubLedgerService) RecordWithdrawal(ctx context.Context, input ledger.MoveInput) (*models.LedgerTransaction, error) {
	return nil, fmt.Errorf("not implemented")
}

func (stubLedgerService) ReverseEscrow(ctx context.Context, input ledger.MoveInput) (*models.LedgerTransaction, error) {
	return nil, fmt.Errorf("not implemented")
}

func (stubLedgerService) EscrowTx(ctx context.Context, tx *gorm.DB, input ledger.MoveInput) (*models.LedgerTransaction, error) {
	return nil, fmt.Errorf("not implemented")
}

func (stubLedgerService) RecordWithdrawalTx(ctx context.Context, tx *gorm.DB, input ledger.MoveInput) (*models.LedgerTransaction, error) {
	return nil, fmt.Errorf("not implemented")
}

func (stubLedgerService) ReverseEscrowTx(ctx context.Context, tx *gorm.DB, input ledger.MoveInput) (*models.LedgerTransaction, error) {
	return nil, fmt.Errorf("not implemented")
}

type stubPayoutsService struct {
	list func(ctx context.Context, params pagination.Params, filters payouts.ListFilters) (*payouts.PayoutList, error)
}

func (s stubPayoutsService) List(ctx context.Context, params pagination.Params, filters payouts.ListFilters) (*payouts.PayoutList, error) {
	if s.list != nil {
		return s.list(ctx, params, filters)
	}
	return &payouts.PayoutList{}, nil
}

func (stubPayoutsService) Submit(ctx context.Context, input payouts.SubmitInput) (*models.PayoutRequest, error) {
	return &models.PayoutRequest{ID: uuid.New(), AccountID: input.AccountID, AmountCents: input.AmountCents, Status: enums.PayoutStatusPending}, nil
}

func (stubPayoutsService) MarkProcessing(ctx context.Context, payoutID uuid.UUID, actor *outbox.ActorRef) (*models.PayoutRequest, error) {
	return &models.PayoutRequest{ID: payoutID, Status: enums.PayoutStatusProcessing}, nil
}

func (stubPayoutsService) Approve(ctx context.Context, payoutID uuid.UUID, actor *outbox.ActorRef) (*models.PayoutRequest, error) {
	return &models.PayoutRequest{ID: payoutID, Status: enums.PayoutStatusCompleted}, nil
}

func (stubPayoutsService) Reject(ctx context.Context, input payouts.RejectInput) (*models.PayoutRequest, error) {
	return &models.PayoutRequest{ID: input.PayoutID, Status: enums.PayoutStatusRejected}, nil
}

func (stubPayoutsService) Get(ctx context.Context, payoutID uuid.UUID) (*models.PayoutRequest, error) {
	return &models.PayoutRequest{ID: payoutID, Status: enums.PayoutStatusPending}, nil
}

type stubCommissionService struct{}

func (stubCommissionService) EffectiveRule(ctx context.Context, at time.Time) (*models.CommissionRule, error) {
	return nil, fmt.Errorf("not implemented")
}

func (stubCommissionService) PublishRule(ctx context.Context, input commission.PublishRuleInput) (*models.CommissionRule, error) {
	return &models.CommissionRule{ID: uuid.New(), Rate: input.Rate, TaxRate: input.TaxRate, MinPayoutCents: input.MinPayoutCents}, nil
}

func (stubCommissionService) ListRules(ctx context.Context, limit int) ([]models.CommissionRule, error) {
	return []models.CommissionRule{}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
		JWT: config.JWTConfig{
			Secret:            "secret",
			Issuer:            "issuer",
			ExpirationMinutes: 60,
		},
	}
}

func newTestRouter(cfg *config.Config) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})
	return NewRouter(
		cfg,
		logg,
		stubPinger{},
		(*redis.Client)(nil),
		stubLedgerService{},
		stubPayoutsService{},
		stubCommissionService{},
	)
}

func buildToken(t *testing.T, cfg *config.Config, role enums.MemberRole, accountID *uuid.UUID) string {
	t.Helper()
	token, err := pkgauth.MintAccessToken(cfg.JWT, time.Now(), pkgauth.AccessTokenPayload{
		UserID:    uuid.New(),
		AccountID: accountID,
		Role:      role,
		JTI:       uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestHealthLiveIsPublic(t *testing.T) {
	router := newTestRouter(testConfig())
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for liveness got %d", resp.Code)
	}
}

func TestWalletGroupRejectsMissingJWT(t *testing.T) {
	router := newTestRouter(testConfig())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}
}

func TestWalletGroupRequiresEarningsAccount(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.MemberRoleVendor, nil))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without account claim got %d", resp.Code)
	}
}

func TestWalletSummarySucceedsForPayee(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)

	accountID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.MemberRoleVendor, &accountID))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for payee wallet got %d", resp.Code)
	}

	var envelope struct {
		Data ledger.WalletSummary `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.AccountID != accountID {
		t.Fatalf("expected account %s got %s", accountID, envelope.Data.AccountID)
	}
}

func TestAdminGroupRequiresAdminRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)

	accountID := uuid.New()
	nonAdmin := httptest.NewRequest(http.MethodGet, "/api/admin/v1/payouts", nil)
	nonAdmin.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.MemberRoleVendor, &accountID))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, nonAdmin)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin got %d", resp.Code)
	}

	admin := httptest.NewRequest(http.MethodGet, "/api/admin/v1/payouts", nil)
	admin.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.MemberRoleAdmin, nil))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, admin)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin got %d", resp.Code)
	}
}

func TestAdminGetPayoutParsesPathID(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)

	payoutID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/payouts/"+payoutID.String(), nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.MemberRoleAdmin, nil))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for payout detail got %d", resp.Code)
	}

	var envelope struct {
		Data payouts.PayoutView `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.ID != payoutID {
		t.Fatalf("expected payout %s got %s", payoutID, envelope.Data.ID)
	}

	malformed := httptest.NewRequest(http.MethodGet, "/api/admin/v1/payouts/not-a-uuid", nil)
	malformed.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.MemberRoleAdmin, nil))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, malformed)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed payout id got %d", resp.Code)
	}
}

func TestOwnPayoutListScopedToCallerAccount(t *testing.T) {
	cfg := testConfig()
	accountID := uuid.New()

	var seenFilters payouts.ListFilters
	logg := logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("debug"), Output: io.Discard})
	router := NewRouter(
		cfg,
		logg,
		stubPinger{},
		(*redis.Client)(nil),
		stubLedgerService{},
		stubPayoutsService{
			list: func(ctx context.Context, params pagination.Params, filters payouts.ListFilters) (*payouts.PayoutList, error) {
				seenFilters = filters
				return &payouts.PayoutList{}, nil
			},
		},
		stubCommissionService{},
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet/payouts?status=pending", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.MemberRoleVendor, &accountID))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for own payouts got %d", resp.Code)
	}
	if seenFilters.AccountID == nil || *seenFilters.AccountID != accountID {
		t.Fatalf("expected list scoped to account %s got %+v", accountID, seenFilters.AccountID)
	}
	if seenFilters.Status == nil || *seenFilters.Status != enums.PayoutStatusPending {
		t.Fatalf("expected pending status filter got %+v", seenFilters.Status)
	}
}
