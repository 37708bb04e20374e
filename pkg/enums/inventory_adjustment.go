package enums

// InventoryAdjustment is the direction of a stock instruction sent to the catalog.
type InventoryAdjustment string

const (
	InventoryAdjustmentDecrement InventoryAdjustment = "decrement"
	InventoryAdjustmentRestock   InventoryAdjustment = "restock"
)

func (a InventoryAdjustment) IsValid() bool {
	return a == InventoryAdjustmentDecrement || a == InventoryAdjustmentRestock
}
