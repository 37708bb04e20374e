package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderItem is the price snapshot of a product taken when the order was created.
type OrderItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null" json:"order_id"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null" json:"product_id"`
	FarmerID       uuid.UUID `gorm:"column:farmer_id;type:uuid;not null" json:"farmer_id"`
	Name           string    `gorm:"column:name;not null" json:"name"`
	Unit           string    `gorm:"column:unit;not null" json:"unit"`
	Quantity       int       `gorm:"column:quantity;not null" json:"quantity"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null" json:"unit_price_cents"`
	SubtotalCents  int64     `gorm:"column:subtotal_cents;not null" json:"subtotal_cents"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}
