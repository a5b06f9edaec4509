package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/coinmarket-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/coinmarket-backend/api/controllers/webhooks"
	"github.com/angelmondragon/coinmarket-backend/api/middleware"
	"github.com/angelmondragon/coinmarket-backend/internal/deposits"
	"github.com/angelmondragon/coinmarket-backend/internal/ledger"
	"github.com/angelmondragon/coinmarket-backend/internal/orders"
	"github.com/angelmondragon/coinmarket-backend/internal/sellers"
	"github.com/angelmondragon/coinmarket-backend/internal/withdrawals"
	"github.com/angelmondragon/coinmarket-backend/pkg/auth/session"
	"github.com/angelmondragon/coinmarket-backend/pkg/config"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
	"github.com/angelmondragon/coinmarket-backend/pkg/redis"
)

type rateCounter interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type sessionStore interface {
	session.RevocationChecker
	Revoke(ctx context.Context, tokenID string) error
}

// Dependencies carries everything the HTTP surface dispatches to. A nil
// service makes its routes answer 500 instead of panicking.
type Dependencies struct {
	DB       controllers.Pinger
	Redis    *redis.Client
	Sessions sessionStore
	Metrics  http.Handler

	Deposits       deposits.Service
	Withdrawals    withdrawals.Service
	Ledger         ledger.Service
	Sellers        sellers.Service
	Orders         orders.Service
	PaymentGateway webhookcontrollers.PaymentGatewayService
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	var (
		idempotencyStore redis.IdempotencyStore
		counterStore     rateCounter
	)
	readiness := map[string]controllers.Pinger{}
	if deps.Redis != nil {
		idempotencyStore = deps.Redis
		counterStore = deps.Redis
		readiness["redis"] = deps.Redis
	}
	if deps.DB != nil {
		readiness["db"] = deps.DB
	}

	apiPolicy := middleware.NewRateLimitPolicy(
		"api",
		cfg.RateLimit.APIWindow,
		cfg.RateLimit.APIIPLimit,
		cfg.RateLimit.APIAccountLimit,
	)
	webhookPolicy := middleware.NewRateLimitPolicy(
		"webhook",
		cfg.RateLimit.WebhookWindow,
		cfg.RateLimit.WebhookIPLimit,
		0,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(middleware.RateLimit(webhookPolicy, counterStore, logg))
		r.Post("/payment-gateway", webhookcontrollers.PaymentGateway(deps.PaymentGateway, cfg.Asaas.WebhookToken, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.Sessions, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))
		r.Use(middleware.RateLimit(apiPolicy, counterStore, logg))

		r.Delete("/session", controllers.SessionLogout(deps.Sessions, logg))

		r.Route("/deposits", func(r chi.Router) {
			r.Post("/", controllers.CreateDeposit(deps.Deposits, logg))
			r.Get("/{paymentId}/status", controllers.DepositStatus(deps.Deposits, logg))
		})

		r.Route("/withdrawals", func(r chi.Router) {
			r.Post("/", controllers.RequestWithdrawal(deps.Withdrawals, logg))
			r.Get("/", controllers.ListWithdrawals(deps.Withdrawals, logg))
			r.Get("/{withdrawalId}", controllers.GetWithdrawal(deps.Withdrawals, logg))
		})

		r.Route("/ledger", func(r chi.Router) {
			r.Get("/balance", controllers.LedgerBalance(deps.Ledger, logg))
			r.Get("/transactions", controllers.LedgerTransactions(deps.Ledger, logg))
		})

		r.Route("/sellers", func(r chi.Router) {
			r.Post("/", controllers.RegisterSeller(deps.Sellers, logg))
			r.Get("/", controllers.ListSellers(deps.Sellers, logg))
			r.Get("/me", controllers.MySeller(deps.Sellers, logg))
			r.Patch("/me", controllers.UpdateSellerListing(deps.Sellers, logg))
			r.Get("/{sellerId}", controllers.GetSeller(deps.Sellers, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.CreateOrder(deps.Orders, logg))
			r.Get("/", controllers.ListOrders(deps.Orders, logg))
			r.Get("/{orderId}", controllers.GetOrder(deps.Orders, logg))
			r.Patch("/{orderId}/status", controllers.UpdateOrderStatus(deps.Orders, logg))
			r.Post("/{orderId}/rating", controllers.RateOrder(deps.Orders, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.AccountRoleAdmin))
			r.Route("/withdrawals/{withdrawalId}", func(r chi.Router) {
				r.Post("/approve", controllers.AdminApproveWithdrawal(deps.Withdrawals, logg))
				r.Post("/reject", controllers.AdminRejectWithdrawal(deps.Withdrawals, logg))
				r.Post("/complete", controllers.AdminCompleteWithdrawal(deps.Withdrawals, logg))
			})
			r.Post("/sessions/{tokenId}/revoke", controllers.AdminRevokeSession(deps.Sessions, logg))
			r.Post("/accounts/{accountId}/reconcile", controllers.AdminReconcileAccount(deps.Ledger, logg))
		})
	})

	return r
}
