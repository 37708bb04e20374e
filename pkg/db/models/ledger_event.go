package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agromart/agromart-backend/pkg/enums"
)

// LedgerEvent records an immutable money lifecycle event tied to an order.
type LedgerEvent struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID          uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	BuyerID          uuid.UUID             `gorm:"column:buyer_id;type:uuid;not null"`
	ActorID          *uuid.UUID            `gorm:"column:actor_id;type:uuid"`
	Type             enums.LedgerEventType `gorm:"column:type;type:ledger_event_type_enum;not null"`
	AmountCents      int64                 `gorm:"column:amount_cents;not null"`
	Currency         enums.Currency        `gorm:"column:currency;type:text;not null"`
	GatewayPaymentID *string               `gorm:"column:gateway_payment_id"`
	Metadata         json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
}
