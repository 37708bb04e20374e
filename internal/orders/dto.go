package orders

import (
	"github.com/agromart/agromart-backend/internal/ledger"
	"github.com/agromart/agromart-backend/pkg/db/models"
	"github.com/agromart/agromart-backend/pkg/enums"
	"github.com/agromart/agromart-backend/pkg/outbox"
	"github.com/google/uuid"
)

// Actor is the authenticated caller driving an order operation.
type Actor struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

// SystemActor is used for gateway callbacks and refunds.
func SystemActor() Actor {
	return Actor{Role: enums.ActorRoleSystem}
}

func (a Actor) userRef() *uuid.UUID {
	if a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}

func (a Actor) outboxRef() *outbox.ActorRef {
	return &outbox.ActorRef{UserID: a.userRef(), Role: a.Role}
}

// CreateOrderItemInput is one requested product line.
type CreateOrderItemInput struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
}

// CreateOrderInput captures a checkout request. Prices come from PriceLookup,
// never from the client.
type CreateOrderInput struct {
	Buyer            Actor
	Items            []CreateOrderItemInput
	DeliveryFeeCents int64
	TaxCents         int64
	DiscountCents    int64
	Currency         enums.Currency
	PaymentMethod    enums.PaymentMethod
	Note             string
}

// TransitionInput requests a status change on behalf of an actor.
type TransitionInput struct {
	OrderID uuid.UUID
	Actor   Actor
	Target  enums.OrderStatus
	Note    string
}

// CancelInput requests cancellation with a reason.
type CancelInput struct {
	OrderID uuid.UUID
	Actor   Actor
	Reason  string
}

// PaymentOutcome is the normalized result of a gateway payment event.
type PaymentOutcome string

const (
	PaymentOutcomeConfirmed PaymentOutcome = "payment_confirmed"
	PaymentOutcomeFailed    PaymentOutcome = "payment_failed"
)

// PaymentEventInput carries a verified gateway payment event.
type PaymentEventInput struct {
	OrderID          uuid.UUID
	Outcome          PaymentOutcome
	GatewayPaymentID string
	AmountCents      int64
	Currency         enums.Currency
	StatusCode       int
	Method           string
	Message          string
}

// ApplyResult reports what ApplyPaymentEvent did. Duplicate is set when the
// event was already reflected on the order and nothing was written.
type ApplyResult struct {
	Order     *models.Order
	Duplicate bool
}

// MarkRefundedInput records a gateway-confirmed refund.
type MarkRefundedInput struct {
	OrderID  uuid.UUID
	Actor    Actor
	Reason   string
	RefundID string
}

// OrderDetail is the order with its full status history. Allowed lists the
// statuses the requesting actor may move the order to. Ledger and Money are
// left out for farmers.
type OrderDetail struct {
	Order   *models.Order               `json:"order"`
	History []models.OrderStatusHistory `json:"history"`
	Allowed []enums.OrderStatus         `json:"allowed_transitions"`
	Ledger  []models.LedgerEvent        `json:"ledger,omitempty"`
	Money   *ledger.Summary             `json:"money,omitempty"`
}

// ListParams pages the orders visible to Actor: a buyer sees their own
// orders, a farmer sees orders containing their produce and an admin sees all.
type ListParams struct {
	Actor  Actor
	Status enums.OrderStatus
	Limit  int
	Cursor string
}

// ListResult is one page of orders; Cursor is empty on the last page.
type ListResult struct {
	Items  []models.Order `json:"items"`
	Cursor string         `json:"cursor"`
}
