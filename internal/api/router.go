package api

import (
	"database/sql"

	"github.com/ayo6706/crypto-ledger/internal/api/handler"
	"github.com/ayo6706/crypto-ledger/internal/api/middleware"
	"github.com/ayo6706/crypto-ledger/internal/api/spec"
	"github.com/ayo6706/crypto-ledger/internal/config"
	"github.com/ayo6706/crypto-ledger/internal/idempotency"
	"github.com/ayo6706/crypto-ledger/internal/network"
	"github.com/ayo6706/crypto-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services bundles the application services the HTTP layer dispatches to.
type Services struct {
	Accounts    *service.AccountService
	Deposits    *service.DepositService
	Withdrawals *service.WithdrawalService
	Conversions *service.ConversionService
	Admin       *service.AdminService
	Webhook     *service.WebhookService
}

type Router struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *sql.DB
	idem     *idempotency.Store
	redis    redis.Cmdable
	registry *network.Registry
	svcs     Services
}

func NewRouter(cfg *config.Config, logger *zap.Logger, db *sql.DB, idem *idempotency.Store, rdb redis.Cmdable, registry *network.Registry, svcs Services) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		idem:     idem,
		redis:    rdb,
		registry: registry,
		svcs:     svcs,
	}
}

func (api *Router) Routes() chi.Router {
	auth := middleware.NewAuthenticator(api.cfg.JWTSecret, api.cfg.JWTIssuer, api.cfg.JWTAudience)

	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	networkHandler := handler.NewNetworkHandler(api.registry)
	accountHandler := handler.NewAccountHandler(api.svcs.Accounts, api.registry)
	depositHandler := handler.NewDepositHandler(api.svcs.Deposits, api.registry)
	withdrawalHandler := handler.NewWithdrawalHandler(api.svcs.Withdrawals, api.registry)
	conversionHandler := handler.NewConversionHandler(api.svcs.Conversions, api.registry)
	adminHandler := handler.NewAdminHandler(api.svcs.Admin, api.registry)
	webhookHandler := handler.NewWebhookHandler(api.svcs.Webhook, api.registry)

	// Public Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Get("/healthz", healthHandler.Live)
		r.Get("/readyz", healthHandler.Ready)
		r.Handle("/metrics", promhttp.Handler())
		r.Get(spec.Path, spec.OpenAPIHandler())
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL(spec.Path)))
		r.Get("/v1/networks", networkHandler.List)

		// Chain indexers authenticate with the HMAC signature, not a JWT.
		r.Post("/v1/internal/confirmations", webhookHandler.HandleConfirmation)
	})

	// Protected Routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Get("/v1/balances", accountHandler.GetBalances)
		r.Get("/v1/wallets", accountHandler.GetWallets)
		r.Get("/v1/transactions", accountHandler.ListTransactions)
		r.Get("/v1/transactions/{id}", accountHandler.GetTransaction)

		r.Group(func(r chi.Router) {
			r.Use(middleware.IdempotencyMiddleware(api.idem, api.logger))

			r.Post("/v1/deposits", depositHandler.CreateDeposit)
			r.Post("/v1/deposits/manual", depositHandler.CreateManualDeposit)
			r.Post("/v1/withdrawals", withdrawalHandler.CreateWithdrawal)
			r.Post("/v1/withdrawals/manual", withdrawalHandler.CreateManualWithdrawal)
			r.Post("/v1/withdrawals/{id}/cancel", withdrawalHandler.CancelWithdrawal)
			r.Post("/v1/conversions/to-fiat", conversionHandler.ToFiat)
			r.Post("/v1/conversions/from-fiat", conversionHandler.FromFiat)
		})

		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleAdmin))
			r.Get("/transactions/pending", adminHandler.ListPending)
			r.With(middleware.IdempotencyMiddleware(api.idem, api.logger)).Post("/transactions/{id}/approve", adminHandler.Approve)
			r.With(middleware.IdempotencyMiddleware(api.idem, api.logger)).Post("/transactions/{id}/reject", adminHandler.Reject)
		})
	})

	return r
}
