package ledger

import (
	"context"

	"github.com/agromart/agromart-backend/pkg/db/models"
	"github.com/agromart/agromart-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists ledger rows. Rows are append-only.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.LedgerEvent) error
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error)
	SumByType(ctx context.Context, orderID uuid.UUID) (map[enums.LedgerEventType]int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, event *models.LedgerEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// ListByOrderID returns the order's money trail oldest first.
func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error) {
	var events []models.LedgerEvent
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&events).Error
	return events, err
}

type typeTotal struct {
	Type  enums.LedgerEventType
	Total int64
}

func (r *repository) SumByType(ctx context.Context, orderID uuid.UUID) (map[enums.LedgerEventType]int64, error) {
	var rows []typeTotal
	if err := r.db.WithContext(ctx).
		Model(&models.LedgerEvent{}).
		Select("type, COALESCE(SUM(amount_cents), 0) AS total").
		Where("order_id = ?", orderID).
		Group("type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[enums.LedgerEventType]int64, len(rows))
	for _, row := range rows {
		out[row.Type] = row.Total
	}
	return out, nil
}
