package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/souqly/settlements-backend/api/controllers"
	"github.com/souqly/settlements-backend/api/middleware"
	"github.com/souqly/settlements-backend/internal/commission"
	"github.com/souqly/settlements-backend/internal/ledger"
	"github.com/souqly/settlements-backend/internal/payouts"
	"github.com/souqly/settlements-backend/pkg/config"
	"github.com/souqly/settlements-backend/pkg/enums"
	"github.com/souqly/settlements-backend/pkg/logger"
	"github.com/souqly/settlements-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbPinger controllers.Pinger,
	redisClient *redis.Client,
	ledgerService ledger.Service,
	payoutsService payouts.Service,
	commissionService commission.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	var idemStore redis.IdempotencyStore
	if redisClient != nil {
		idemStore = redisClient
	}

	readiness := map[string]controllers.Pinger{}
	if dbPinger != nil {
		readiness["postgres"] = dbPinger
	}
	if redisClient != nil {
		readiness["redis"] = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness))
	})

	r.Route("/api/v1/wallet", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireAccount(logg))
		r.Use(middleware.Idempotency(idemStore, logg))

		r.Get("/", controllers.WalletSummary(ledgerService, logg))
		r.Get("/transactions", controllers.WalletTransactions(ledgerService, logg))
		r.Route("/payouts", func(r chi.Router) {
			r.Get("/", controllers.ListOwnPayouts(payoutsService, logg))
			r.Post("/", controllers.SubmitPayout(payoutsService, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(enums.MemberRoleAdmin, logg))
		r.Use(middleware.Idempotency(idemStore, logg))

		r.Route("/payouts", func(r chi.Router) {
			r.Get("/", controllers.AdminListPayouts(payoutsService, logg))
			r.Get("/{payoutId}", controllers.AdminGetPayout(payoutsService, logg))
			r.Post("/{payoutId}/processing", controllers.AdminMarkPayoutProcessing(payoutsService, logg))
			r.Post("/{payoutId}/approve", controllers.AdminApprovePayout(payoutsService, logg))
			r.Post("/{payoutId}/reject", controllers.AdminRejectPayout(payoutsService, logg))
		})
		r.Route("/commission-rules", func(r chi.Router) {
			r.Get("/", controllers.ListCommissionRules(commissionService, logg))
			r.Post("/", controllers.PublishCommissionRule(commissionService, logg))
		})
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", controllers.OpenAccount(ledgerService, logg))
			r.Get("/{accountId}", controllers.AdminAccountSummary(ledgerService, logg))
			r.Post("/{accountId}/deactivate", controllers.DeactivateAccount(ledgerService, logg))
		})
	})

	return r
}
