package orders

import (
	"context"
	"errors"

	"github.com/agromart/agromart-backend/pkg/db/models"
	"github.com/agromart/agromart-backend/pkg/enums"
	"github.com/agromart/agromart-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrVersionConflict is returned when an update loses the optimistic version race.
var ErrVersionConflict = errors.New("order version conflict")

// Repository defines persistence operations for orders, items and history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error)
	UpdateWithVersion(ctx context.Context, id uuid.UUID, version int, updates map[string]any) error
	AppendHistory(ctx context.Context, entry *models.OrderStatusHistory) error
	ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error)
	List(ctx context.Context, params listOrdersParams) ([]models.Order, *pagination.Cursor, error)
}

// PriceLookup snapshots catalog prices when an order is created.
type PriceLookup interface {
	LookupProducts(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]ProductSnapshot, error)
}

type listOrdersParams struct {
	BuyerID  uuid.UUID
	FarmerID uuid.UUID
	Status   enums.OrderStatus
	Limit    int
	Cursor   *pagination.Cursor
}
