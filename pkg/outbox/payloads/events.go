package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/agromart/agromart-backend/pkg/enums"
)

// OrderCreatedEvent announces a new pending order.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID   `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	BuyerID     uuid.UUID   `json:"buyer_id"`
	FarmerIDs   []uuid.UUID `json:"farmer_ids"`
	TotalCents  int64       `json:"total_cents"`
	Currency    string      `json:"currency"`
}

// OrderStatusChangedEvent is emitted for every accepted status transition.
type OrderStatusChangedEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	From        enums.OrderStatus `json:"from"`
	To          enums.OrderStatus `json:"to"`
	ActorRole   enums.ActorRole   `json:"actor_role"`
	Note        string            `json:"note,omitempty"`
	ChangedAt   time.Time         `json:"changed_at"`
}

// PaymentStatusEvent reports a settlement outcome for an order.
type PaymentStatusEvent struct {
	OrderID          uuid.UUID           `json:"order_id"`
	OrderNumber      string              `json:"order_number"`
	PaymentStatus    enums.PaymentStatus `json:"payment_status"`
	GatewayPaymentID string              `json:"gateway_payment_id,omitempty"`
	AmountCents      int64               `json:"amount_cents"`
	Currency         string              `json:"currency"`
}

// OrderRefundedEvent is emitted once the gateway confirmed the refund.
type OrderRefundedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Reason      string    `json:"reason,omitempty"`
	RefundedAt  time.Time `json:"refunded_at"`
}

// InventoryLine is one product quantity in an inventory instruction.
type InventoryLine struct {
	ProductID uuid.UUID `json:"product_id"`
	FarmerID  uuid.UUID `json:"farmer_id"`
	Quantity  int       `json:"quantity"`
}

// InventoryAdjustmentEvent instructs the catalog to move stock for an order.
type InventoryAdjustmentEvent struct {
	OrderID    uuid.UUID                 `json:"order_id"`
	Adjustment enums.InventoryAdjustment `json:"adjustment"`
	Lines      []InventoryLine           `json:"lines"`
}

// NotificationRequestedEvent asks the notification collaborator to alert users.
type NotificationRequestedEvent struct {
	OrderID      uuid.UUID              `json:"order_id"`
	OrderNumber  string                 `json:"order_number"`
	Type         enums.NotificationType `json:"type"`
	RecipientIDs []uuid.UUID            `json:"recipient_ids"`
	Status       enums.OrderStatus      `json:"status"`
	Message      string                 `json:"message"`
}

// CardEvent reports a saved card being added or removed for a buyer.
type CardEvent struct {
	CardID       uuid.UUID        `json:"card_id"`
	BuyerID      uuid.UUID        `json:"buyer_id"`
	Method       enums.CardMethod `json:"method"`
	MaskedNumber string           `json:"masked_number"`
}
