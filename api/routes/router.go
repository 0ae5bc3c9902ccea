package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/swapdesk/swapdesk-backend/api/controllers"
	"github.com/swapdesk/swapdesk-backend/api/middleware"
	"github.com/swapdesk/swapdesk-backend/internal/disputes"
	"github.com/swapdesk/swapdesk-backend/internal/escrow"
	"github.com/swapdesk/swapdesk-backend/internal/identity"
	"github.com/swapdesk/swapdesk-backend/internal/legal"
	"github.com/swapdesk/swapdesk-backend/internal/listings"
	"github.com/swapdesk/swapdesk-backend/internal/notifications"
	"github.com/swapdesk/swapdesk-backend/internal/payments"
	"github.com/swapdesk/swapdesk-backend/pkg/auth/session"
	"github.com/swapdesk/swapdesk-backend/pkg/config"
	"github.com/swapdesk/swapdesk-backend/pkg/db"
	"github.com/swapdesk/swapdesk-backend/pkg/enums"
	"github.com/swapdesk/swapdesk-backend/pkg/logger"
	"github.com/swapdesk/swapdesk-backend/pkg/redis"
)

type sessionManager interface {
	session.AccessSessionChecker
	Rotate(context.Context, string, string) (string, string, error)
	Revoke(context.Context, string) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	sessionManager sessionManager,
	identityService identity.Service,
	listingsService listings.Service,
	escrowService escrow.Service,
	disputesService disputes.Service,
	legalService legal.Service,
	notificationsService notifications.Service,
	paymentsService payments.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/paystack", controllers.PaystackWebhook(paymentsService, logg))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(loginPolicy, redisClient, logg)).Post("/login", controllers.AuthLogin(identityService, logg))
		r.With(middleware.AuthRateLimit(registerPolicy, redisClient, logg)).Post("/register", controllers.AuthRegister(identityService, logg))
		r.Post("/logout", controllers.AuthLogout(sessionManager, cfg.JWT, logg))
		r.Post("/refresh", controllers.AuthRefresh(sessionManager, cfg.JWT, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, sessionManager, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Route("/v1/listings", func(r chi.Router) {
			r.Post("/", controllers.ListingCreate(listingsService, logg))
			r.Get("/market", controllers.ListingMarket(listingsService, logg))
			r.Get("/mine", controllers.ListingMine(listingsService, logg))
			r.Get("/{listingId}", controllers.ListingDetail(listingsService, logg))
		})

		r.Route("/v1/transactions", func(r chi.Router) {
			r.Post("/", controllers.TransactionInitiate(escrowService, logg))
			r.Get("/", controllers.TransactionListMine(escrowService, logg))
			r.Get("/{transactionId}", controllers.TransactionDetail(escrowService, logg))
			r.Post("/{transactionId}/payment", controllers.TransactionConfirmPayment(escrowService, logg))
			r.Post("/{transactionId}/sign", controllers.TransactionSignContract(escrowService, logg))
			r.Post("/{transactionId}/reveal", controllers.TransactionReveal(escrowService, logg))
			r.Post("/{transactionId}/confirm-access", controllers.TransactionConfirmAccess(escrowService, logg))
			r.Post("/{transactionId}/dispute", controllers.DisputeRaise(disputesService, logg))
		})

		r.Route("/v1/legal", func(r chi.Router) {
			r.Post("/acknowledge", controllers.LegalAcknowledge(legalService, logg))
			r.Get("/status", controllers.LegalStatus(legalService, logg))
		})

		r.Route("/v1/notifications", func(r chi.Router) {
			r.Get("/", controllers.NotificationList(notificationsService, logg))
			r.Post("/{notificationId}/read", controllers.NotificationMarkRead(notificationsService, logg))
			r.Post("/read-all", controllers.NotificationMarkAllRead(notificationsService, logg))
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, sessionManager, logg))
		r.Use(middleware.RequireAnyRole(logg, enums.UserRoleAdmin.String(), enums.UserRoleSuperAdmin.String()))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Route("/v1/listings", func(r chi.Router) {
			r.Post("/{listingId}/review", controllers.AdminListingReview(listingsService, logg))
		})
		r.Route("/v1/transactions", func(r chi.Router) {
			r.Get("/", controllers.AdminTransactionList(escrowService, logg))
			r.Get("/{transactionId}/audit", controllers.AdminAuditTrail(disputesService, logg))
			r.Post("/{transactionId}/force-release", controllers.AdminForceRelease(disputesService, logg))
			r.Post("/{transactionId}/force-refund", controllers.AdminForceRefund(disputesService, logg))
		})
	})

	return r
}
