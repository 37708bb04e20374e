package orders

import (
	"context"

	"github.com/agromart/agromart-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProductSnapshot is the catalog data copied into an order item.
type ProductSnapshot struct {
	ProductID      uuid.UUID      `gorm:"column:product_id"`
	FarmerID       uuid.UUID      `gorm:"column:farmer_id"`
	Name           string         `gorm:"column:name"`
	Unit           string         `gorm:"column:unit"`
	UnitPriceCents int64          `gorm:"column:price_cents"`
	Currency       enums.Currency `gorm:"column:currency"`
	Active         bool           `gorm:"column:is_active"`
}

type catalogPriceLookup struct {
	db *gorm.DB
}

// NewCatalogPriceLookup reads prices from the product_prices read model kept
// in sync by the catalog service.
func NewCatalogPriceLookup(db *gorm.DB) PriceLookup {
	return &catalogPriceLookup{db: db}
}

func (l *catalogPriceLookup) LookupProducts(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]ProductSnapshot, error) {
	out := make(map[uuid.UUID]ProductSnapshot, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	var rows []ProductSnapshot
	if err := l.db.WithContext(ctx).
		Table("product_prices").
		Select("product_id, farmer_id, name, unit, price_cents, currency, is_active").
		Where("product_id IN ?", productIDs).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ProductID] = row
	}
	return out, nil
}
