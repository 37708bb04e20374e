package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/agromart/agromart-backend/pkg/db/types"
	"github.com/agromart/agromart-backend/pkg/enums"
)

// Order is the aggregate root for a buyer's purchase from one or more farmers.
// Mutations go through the order state machine; Version guards concurrent writers.
type Order struct {
	ID                   uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderNumber          string              `gorm:"column:order_number;not null;uniqueIndex" json:"order_number"`
	BuyerID              uuid.UUID           `gorm:"column:buyer_id;type:uuid;not null" json:"buyer_id"`
	FarmerIDs            dbtypes.UUIDArray   `gorm:"column:farmer_ids;type:uuid[];not null" json:"farmer_ids"`
	Status               enums.OrderStatus   `gorm:"column:status;type:order_status;not null;default:'pending'" json:"status"`
	PaymentMethod        enums.PaymentMethod `gorm:"column:payment_method;type:payment_method;not null;default:'payhere'" json:"payment_method"`
	PaymentStatus        enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null;default:'unpaid'" json:"payment_status"`
	TransactionID        *string             `gorm:"column:transaction_id" json:"transaction_id,omitempty"`
	GatewayOrderID       string              `gorm:"column:gateway_order_id;not null;uniqueIndex" json:"gateway_order_id"`
	Currency             enums.Currency      `gorm:"column:currency;type:text;not null;default:'LKR'" json:"currency"`
	SubtotalCents        int64               `gorm:"column:subtotal_cents;not null" json:"subtotal_cents"`
	DeliveryFeeCents     int64               `gorm:"column:delivery_fee_cents;not null;default:0" json:"delivery_fee_cents"`
	TaxCents             int64               `gorm:"column:tax_cents;not null;default:0" json:"tax_cents"`
	DiscountCents        int64               `gorm:"column:discount_cents;not null;default:0" json:"discount_cents"`
	TotalCents           int64               `gorm:"column:total_cents;not null" json:"total_cents"`
	InventoryDecremented bool                `gorm:"column:inventory_decremented;not null;default:false" json:"-"`
	CancelReason         *string             `gorm:"column:cancel_reason" json:"cancel_reason,omitempty"`
	RefundReason         *string             `gorm:"column:refund_reason" json:"refund_reason,omitempty"`
	Version              int                 `gorm:"column:version;not null;default:1" json:"version"`
	PaidAt               *time.Time          `gorm:"column:paid_at" json:"paid_at,omitempty"`
	ConfirmedAt          *time.Time          `gorm:"column:confirmed_at" json:"confirmed_at,omitempty"`
	ShippedAt            *time.Time          `gorm:"column:shipped_at" json:"shipped_at,omitempty"`
	DeliveredAt          *time.Time          `gorm:"column:delivered_at" json:"delivered_at,omitempty"`
	CancelledAt          *time.Time          `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
	RefundedAt           *time.Time          `gorm:"column:refunded_at" json:"refunded_at,omitempty"`
	Items                []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
	CreatedAt            time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// HasFarmer reports whether the farmer supplies at least one item of the order.
func (o *Order) HasFarmer(farmerID uuid.UUID) bool {
	return o.FarmerIDs.Contains(farmerID)
}
