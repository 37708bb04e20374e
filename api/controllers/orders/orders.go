package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/agromart/agromart-backend/api/middleware"
	"github.com/agromart/agromart-backend/api/responses"
	"github.com/agromart/agromart-backend/api/validators"
	internalorders "github.com/agromart/agromart-backend/internal/orders"
	"github.com/agromart/agromart-backend/pkg/db/models"
	"github.com/agromart/agromart-backend/pkg/enums"
	pkgerrors "github.com/agromart/agromart-backend/pkg/errors"
	"github.com/agromart/agromart-backend/pkg/logger"
	"github.com/agromart/agromart-backend/pkg/pagination"
)

const maxNoteLength = 500

// OrderService is the slice of the order state machine the HTTP layer drives.
type OrderService interface {
	Create(ctx context.Context, input internalorders.CreateOrderInput) (*models.Order, error)
	Detail(ctx context.Context, actor internalorders.Actor, id uuid.UUID) (*internalorders.OrderDetail, error)
	List(ctx context.Context, params internalorders.ListParams) (*internalorders.ListResult, error)
	Transition(ctx context.Context, input internalorders.TransitionInput) (*models.Order, error)
	Cancel(ctx context.Context, input internalorders.CancelInput) (*models.Order, error)
}

type createItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

type createOrderRequest struct {
	Items         []createItemRequest `json:"items" validate:"required,min=1,dive"`
	Currency      string              `json:"currency" validate:"omitempty,len=3"`
	PaymentMethod string              `json:"payment_method"`
	Note          string              `json:"note"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
	Note   string `json:"note"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// Create places an order for the calling buyer. Prices come from the catalog.
func Create(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := middleware.Actor(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		items := make([]internalorders.CreateOrderItemInput, 0, len(req.Items))
		for _, item := range req.Items {
			productID, err := validators.ParseUUID(item.ProductID, "product_id")
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			items = append(items, internalorders.CreateOrderItemInput{ProductID: productID, Quantity: item.Quantity})
		}

		var currency enums.Currency
		if strings.TrimSpace(req.Currency) != "" {
			if currency, err = enums.ParseCurrency(req.Currency); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported currency"))
				return
			}
		}
		var method enums.PaymentMethod
		if req.PaymentMethod != "" {
			if method, err = enums.ParsePaymentMethod(req.PaymentMethod); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported payment method"))
				return
			}
		}

		order, err := svc.Create(ctx, internalorders.CreateOrderInput{
			Buyer:         actor,
			Items:         items,
			Currency:      currency,
			PaymentMethod: method,
			Note:          validators.SanitizeString(req.Note, maxNoteLength),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// List pages the orders visible to the caller, newest first.
func List(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := middleware.Actor(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var status enums.OrderStatus
		if raw := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))); raw != "" {
			status, err = enums.ParseOrderStatus(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown order status"))
				return
			}
		}

		result, err := svc.List(ctx, internalorders.ListParams{
			Actor:  actor,
			Status: status,
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Detail returns the order with its status history and the caller's next moves.
func Detail(svc OrderService, logg *logger.Logger) http.HandlerFunc {
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

		detail, err := svc.Detail(ctx, actor, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// UpdateStatus moves an order along its fulfillment lifecycle.
func UpdateStatus(svc OrderService, logg *logger.Logger) http.HandlerFunc {
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

		var req statusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		target, err := enums.ParseOrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown order status"))
			return
		}

		order, err := svc.Transition(ctx, internalorders.TransitionInput{
			OrderID: orderID,
			Actor:   actor,
			Target:  target,
			Note:    validators.SanitizeString(req.Note, maxNoteLength),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// Cancel cancels an order with a reason.
func Cancel(svc OrderService, logg *logger.Logger) http.HandlerFunc {
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

		var req cancelRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.Cancel(ctx, internalorders.CancelInput{
			OrderID: orderID,
			Actor:   actor,
			Reason:  validators.SanitizeString(req.Reason, maxNoteLength),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}
