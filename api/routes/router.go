package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agromart/agromart-backend/api/controllers"
	ordercontrollers "github.com/agromart/agromart-backend/api/controllers/orders"
	paymentcontrollers "github.com/agromart/agromart-backend/api/controllers/payments"
	webhookcontrollers "github.com/agromart/agromart-backend/api/controllers/webhooks"
	"github.com/agromart/agromart-backend/api/middleware"
	"github.com/agromart/agromart-backend/pkg/config"
	"github.com/agromart/agromart-backend/pkg/enums"
	"github.com/agromart/agromart-backend/pkg/logger"
)

// RedisStore is the slice of the redis client the middleware chain needs.
type RedisStore interface {
	middleware.ReplayStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Dependencies collects everything the HTTP surface is wired to.
type Dependencies struct {
	Config   *config.Config
	Logger   *logger.Logger
	Redis    RedisStore
	Checks   map[string]controllers.Pinger
	Metrics  http.Handler
	Orders   ordercontrollers.OrderService
	Payments paymentcontrollers.PaymentService
	Refunds  paymentcontrollers.RefundService
	Cards    paymentcontrollers.CardService
	Notify   webhookcontrollers.PayHereNotifyService
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	paymentPolicy := middleware.NewRateLimitPolicy(
		"payments",
		cfg.App.PaymentRateWindow,
		cfg.App.PaymentRateIPLimit,
		cfg.App.PaymentRateUserLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Checks))
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	idempotent := func(operation string, window time.Duration) func(http.Handler) http.Handler {
		return middleware.Idempotent(deps.Redis, logg, operation, window)
	}

	r.Route("/api/orders", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/", ordercontrollers.List(deps.Orders, logg))
		r.With(
			middleware.RequireRole(logg, enums.ActorRoleBuyer),
			idempotent("order.create", middleware.OrderReplayWindow),
		).Post("/", ordercontrollers.Create(deps.Orders, logg))
		r.Get("/{orderID}", ordercontrollers.Detail(deps.Orders, logg))
		r.Patch("/{orderID}/status", ordercontrollers.UpdateStatus(deps.Orders, logg))
		r.With(idempotent("order.cancel", middleware.OrderReplayWindow)).
			Patch("/{orderID}/cancel", ordercontrollers.Cancel(deps.Orders, logg))
	})

	r.Route("/api/payments", func(r chi.Router) {
		// PayHere calls notify server to server; the md5sig is its only credential.
		r.Post("/notify", webhookcontrollers.PayHereNotify(deps.Notify, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.RateLimit(paymentPolicy, deps.Redis, logg))

			r.With(
				middleware.RequireRole(logg, enums.ActorRoleAdmin, enums.ActorRoleFarmer),
				idempotent("payment.refund", middleware.MoneyReplayWindow),
			).Post("/refund", paymentcontrollers.Refund(deps.Refunds, logg))
			r.With(middleware.RequireRole(logg, enums.ActorRoleAdmin, enums.ActorRoleBuyer)).
				Get("/status/{orderID}", paymentcontrollers.Status(deps.Payments, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.ActorRoleBuyer))
				r.With(idempotent("payment.create", middleware.OrderReplayWindow)).
					Post("/create-payment", paymentcontrollers.CreatePayment(deps.Payments, logg))
				r.Post("/preapprove", paymentcontrollers.Preapprove(deps.Payments, logg))
				r.With(idempotent("payment.charge", middleware.MoneyReplayWindow)).
					Post("/charge", paymentcontrollers.Charge(deps.Payments, logg))
				r.Get("/cards", paymentcontrollers.ListCards(deps.Cards, logg))
				r.Get("/card/{cardID}", paymentcontrollers.GetCard(deps.Cards, logg))
				r.Put("/card/{cardID}", paymentcontrollers.UpdateCard(deps.Cards, logg))
				r.Delete("/card/{cardID}", paymentcontrollers.DeleteCard(deps.Cards, logg))
			})
		})
	})

	return r
}
