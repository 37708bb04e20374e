package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/agromart/agromart-backend/pkg/enums"
)

// OrderStatusHistory is one append-only entry of an order's audit trail.
type OrderStatusHistory struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID   uuid.UUID         `gorm:"column:order_id;type:uuid;not null" json:"order_id"`
	Sequence  int               `gorm:"column:sequence;not null" json:"sequence"`
	Status    enums.OrderStatus `gorm:"column:status;type:order_status;not null" json:"status"`
	ActorID   *uuid.UUID        `gorm:"column:actor_id;type:uuid" json:"actor_id,omitempty"`
	ActorRole enums.ActorRole   `gorm:"column:actor_role;type:text;not null" json:"actor_role"`
	Note      *string           `gorm:"column:note" json:"note,omitempty"`
	CreatedAt time.Time         `gorm:"column:created_at" json:"created_at"`
}

func (OrderStatusHistory) TableName() string {
	return "order_status_history"
}
