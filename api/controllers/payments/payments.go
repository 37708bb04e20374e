package payments

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/agromart/agromart-backend/api/middleware"
	"github.com/agromart/agromart-backend/api/responses"
	"github.com/agromart/agromart-backend/api/validators"
	"github.com/agromart/agromart-backend/internal/orders"
	internalpayments "github.com/agromart/agromart-backend/internal/payments"
	"github.com/agromart/agromart-backend/internal/refunds"
	"github.com/agromart/agromart-backend/pkg/logger"
	"github.com/agromart/agromart-backend/pkg/payhere"
)

const maxReasonLength = 255

type PaymentService interface {
	CreatePayment(ctx context.Context, input internalpayments.CreatePaymentInput) (*payhere.PaymentRequest, error)
	Preapprove(ctx context.Context, input internalpayments.PreapproveInput) (*payhere.Preapproval, error)
	ChargeCard(ctx context.Context, input internalpayments.ChargeInput) (*internalpayments.ChargeOutcome, error)
	Status(ctx context.Context, actor orders.Actor, orderID uuid.UUID) (*internalpayments.StatusResult, error)
}

type RefundService interface {
	Refund(ctx context.Context, input refunds.RefundInput) (*refunds.RefundResult, error)
}

type createPaymentRequest struct {
	OrderID  string      `json:"order_id" validate:"required"`
	Amount   json.Number `json:"amount" validate:"required,money"`
	Currency string      `json:"currency" validate:"required"`
}

type preapproveRequest struct {
	UserID    string `json:"userId"`
	OrderID   string `json:"order_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email" validate:"omitempty,email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	City      string `json:"city"`
	Country   string `json:"country"`
}

type chargeRequest struct {
	OrderID string `json:"order_id" validate:"required"`
	CardID  string `json:"card_id" validate:"required"`
}

type refundRequest struct {
	OrderID     string `json:"order_id" validate:"required"`
	Description string `json:"description"`
}

// CreatePayment returns the signed checkout payload for the caller's order.
func CreatePayment(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := middleware.Actor(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req createPaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := validators.ParseUUID(req.OrderID, "order_id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		payment, err := svc.CreatePayment(ctx, internalpayments.CreatePaymentInput{
			OrderID:  orderID,
			Amount:   req.Amount.String(),
			Currency: req.Currency,
			Actor:    actor,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}

// Preapprove returns the card registration redirect for the caller.
func Preapprove(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := middleware.Actor(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req preapproveRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		pre, err := svc.Preapprove(ctx, internalpayments.PreapproveInput{
			Actor:     actor,
			UserID:    req.UserID,
			OrderID:   req.OrderID,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Email:     req.Email,
			Phone:     req.Phone,
			Address:   req.Address,
			City:      req.City,
			Country:   req.Country,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, pre)
	}
}

// Charge pays an order with one of the caller's saved cards.
func Charge(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := middleware.Actor(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req chargeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := validators.ParseUUID(req.OrderID, "order_id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		cardID, err := validators.ParseUUID(req.CardID, "card_id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		outcome, err := svc.ChargeCard(ctx, internalpayments.ChargeInput{OrderID: orderID, CardID: cardID, Actor: actor})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		status := http.StatusOK
		if outcome.StatusCode == payhere.StatusPending {
			status = http.StatusAccepted
		}
		responses.WriteSuccessStatus(w, status, outcome)
	}
}

// Status shows what the gateway has recorded for an order.
func Status(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := middleware.Actor(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Status(ctx, actor, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Refund returns an order's captured payment.
func Refund(svc RefundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := middleware.Actor(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req refundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := validators.ParseUUID(req.OrderID, "order_id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Refund(ctx, refunds.RefundInput{
			OrderID: orderID,
			Reason:  validators.SanitizeString(req.Description, maxReasonLength),
			Actor:   actor,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
