package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agromart/agromart-backend/api/controllers"
	"github.com/agromart/agromart-backend/api/routes"
	"github.com/agromart/agromart-backend/internal/cards"
	"github.com/agromart/agromart-backend/internal/ledger"
	"github.com/agromart/agromart-backend/internal/orders"
	"github.com/agromart/agromart-backend/internal/payments"
	"github.com/agromart/agromart-backend/internal/refunds"
	payherewebhook "github.com/agromart/agromart-backend/internal/webhooks/payhere"
	"github.com/agromart/agromart-backend/pkg/config"
	"github.com/agromart/agromart-backend/pkg/db"
	"github.com/agromart/agromart-backend/pkg/logger"
	"github.com/agromart/agromart-backend/pkg/metrics"
	"github.com/agromart/agromart-backend/pkg/migrate"
	"github.com/agromart/agromart-backend/pkg/outbox"
	"github.com/agromart/agromart-backend/pkg/payhere"
	"github.com/agromart/agromart-backend/pkg/redis"
	"github.com/agromart/agromart-backend/pkg/security"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.LoadAPI()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(context.Background(), "api stopped", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	paymentMetrics := metrics.NewPaymentMetrics(registry)

	gatewayClient, err := payhere.NewClient(cfg.PayHere, logg, payhere.WithMetrics(paymentMetrics))
	if err != nil {
		return err
	}
	cipher, err := security.NewTokenCipherFromHex(cfg.CardVault.EncryptionKey)
	if err != nil {
		return err
	}

	conn := dbClient.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return err
	}
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:    orders.NewRepository(conn),
		Tx:      dbClient,
		Outbox:  outboxSvc,
		Ledger:  ledgerSvc,
		Prices:  orders.NewCatalogPriceLookup(conn),
		Metrics: paymentMetrics,
		Logger:  logg,
	})
	if err != nil {
		return err
	}
	cardSvc, err := cards.NewService(cards.ServiceParams{
		Repo:    cards.NewRepository(conn),
		Tx:      dbClient,
		Cipher:  cipher,
		Revoker: gatewayClient,
		Outbox:  outboxSvc,
		Logger:  logg,
	})
	if err != nil {
		return err
	}

	dedupGuard, err := payherewebhook.NewIdempotencyGuard(redisClient, cfg.PayHere.WebhookDedupTTL, payherewebhook.DedupScope)
	if err != nil {
		return err
	}
	notifySvc, err := payherewebhook.NewService(payherewebhook.ServiceParams{
		MerchantID: cfg.PayHere.MerchantID,
		Signer:     gatewayClient.Signer(),
		Orders:     orderSvc,
		Cards:      cardSvc,
		Guard:      dedupGuard,
		Metrics:    paymentMetrics,
		Logger:     logg,
	})
	if err != nil {
		return err
	}
	paymentSvc, err := payments.NewService(payments.ServiceParams{
		Orders:  orderSvc,
		Gateway: gatewayClient,
		Cards:   cardSvc,
		Guard:   dedupGuard,
		Locker:  redisClient,
		Logger:  logg,
	})
	if err != nil {
		return err
	}
	refundSvc, err := refunds.NewService(refunds.ServiceParams{
		Orders:  orderSvc,
		Gateway: gatewayClient,
		Locker:      redisClient,
		LockTTL:     cfg.PayHere.RefundLockTTL,
		Submissions: redisClient,
		Metrics:     paymentMetrics,
		Logger:      logg,
	})
	if err != nil {
		return err
	}

	handler := routes.NewRouter(routes.Dependencies{
		Config:   cfg,
		Logger:   logg,
		Redis:    redisClient,
		Checks:   map[string]controllers.Pinger{"db": dbClient, "redis": redisClient},
		Metrics:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Orders:   orderSvc,
		Payments: paymentSvc,
		Refunds:  refundSvc,
		Cards:    cardSvc,
		Notify:   notifySvc,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"payhere_env": cfg.PayHere.Environment(),
	})
	logg.Info(logCtx, "starting api server")
	if cfg.App.IsProd() && cfg.PayHere.Sandbox {
		logg.Warn(logCtx, "payhere sandbox enabled in prod")
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
