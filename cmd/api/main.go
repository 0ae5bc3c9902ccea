package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/swapdesk/swapdesk-backend/api/routes"
	"github.com/swapdesk/swapdesk-backend/internal/contracts"
	"github.com/swapdesk/swapdesk-backend/internal/disputes"
	"github.com/swapdesk/swapdesk-backend/internal/escrow"
	"github.com/swapdesk/swapdesk-backend/internal/identity"
	"github.com/swapdesk/swapdesk-backend/internal/legal"
	"github.com/swapdesk/swapdesk-backend/internal/listings"
	"github.com/swapdesk/swapdesk-backend/internal/notifications"
	"github.com/swapdesk/swapdesk-backend/internal/payments"
	"github.com/swapdesk/swapdesk-backend/internal/reveal"
	"github.com/swapdesk/swapdesk-backend/internal/vault"
	"github.com/swapdesk/swapdesk-backend/pkg/auth/session"
	"github.com/swapdesk/swapdesk-backend/pkg/config"
	"github.com/swapdesk/swapdesk-backend/pkg/db"
	"github.com/swapdesk/swapdesk-backend/pkg/logger"
	"github.com/swapdesk/swapdesk-backend/pkg/metrics"
	"github.com/swapdesk/swapdesk-backend/pkg/migrate"
	"github.com/swapdesk/swapdesk-backend/pkg/outbox"
	"github.com/swapdesk/swapdesk-backend/pkg/paystack"
	"github.com/swapdesk/swapdesk-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	zl := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api").Logger().Level(logger.ParseLevel(cfg.App.LogLevel))

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	gormDB := dbClient.DB()
	identityRepo := identity.NewRepository(gormDB)

	identityService, err := identity.NewService(identity.ServiceParams{
		UserRepo:       identityRepo,
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create identity service", err)
		os.Exit(1)
	}

	vaultService, err := vault.NewService(vault.ServiceParams{
		Repo:   vault.NewRepository(gormDB),
		Config: cfg.Vault,
		Logger: zl,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create credential vault", err)
		os.Exit(1)
	}

	listingsRepo := listings.NewRepository(gormDB)
	listingsService, err := listings.NewService(listings.ServiceParams{
		Repo:     listingsRepo,
		Tx:       dbClient,
		Sealer:   vaultService,
		Identity: identityService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create listings service", err)
		os.Exit(1)
	}

	legalService, err := legal.NewService(legal.NewRepository(gormDB))
	if err != nil {
		logg.Error(context.Background(), "failed to create legal service", err)
		os.Exit(1)
	}

	signer, err := contracts.NewSigner(contracts.NewRepository(gormDB))
	if err != nil {
		logg.Error(context.Background(), "failed to create contract signer", err)
		os.Exit(1)
	}

	revealManager, err := reveal.NewManager(reveal.ManagerParams{
		Repo:   reveal.NewRepository(gormDB),
		Leases: redisClient,
		TTL:    cfg.Escrow.RevealTTL,
		Logger: zl,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reveal manager", err)
		os.Exit(1)
	}

	paystackClient, err := paystack.NewClient(context.Background(), cfg.Paystack, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create paystack client", err)
		os.Exit(1)
	}
	amountConverter, err := paystack.NewConverter(cfg.Paystack.USDToNGNRate)
	if err != nil {
		logg.Error(context.Background(), "failed to parse usd/ngn rate", err)
		os.Exit(1)
	}

	outboxService := outbox.NewService(outbox.NewRepository(gormDB), logg)
	escrowMetrics := metrics.NewEscrowMetrics(prometheus.DefaultRegisterer)

	escrowRepo := escrow.NewRepository(gormDB)
	auditRepo := escrow.NewAuditRepository(gormDB)

	escrowService, err := escrow.NewService(escrow.ServiceParams{
		Repo:         escrowRepo,
		ListingsRepo: listingsRepo,
		AuditRepo:    auditRepo,
		Tx:           dbClient,
		Vault:        vaultService,
		Identity:     identityService,
		Users:        identityRepo,
		Legal:        legalService,
		Reveals:      revealManager,
		Signer:       signer,
		Events:       outboxService,
		Checkout:     paystackClient,
		Amounts:      amountConverter,
		Metrics:      escrowMetrics,
		Config:       cfg.Escrow,
		Logger:       zl,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create escrow service", err)
		os.Exit(1)
	}

	disputesService, err := disputes.NewService(disputes.ServiceParams{
		Transactions: escrowRepo,
		Audits:       auditRepo,
		Listings:     listingsRepo,
		Reveals:      reveal.NewRepository(gormDB),
		Tx:           dbClient,
		Events:       outboxService,
		Metrics:      escrowMetrics,
		Config:       cfg.Escrow,
		Logger:       zl,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create disputes service", err)
		os.Exit(1)
	}

	paymentsService, err := payments.NewService(payments.ServiceParams{
		Repo:      payments.NewRepository(gormDB),
		Txns:      escrowRepo,
		Confirmer: escrowService,
		SecretKey: cfg.Paystack.SecretKey,
		Logger:    zl,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	notificationsService, err := notifications.NewService(notifications.NewRepository(gormDB))
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			sessionManager,
			identityService,
			listingsService,
			escrowService,
			disputesService,
			legalService,
			notificationsService,
			paymentsService,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
