// Package dbtypes holds column types gorm cannot map on its own.
package dbtypes

import (
	"database/sql/driver"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// UUIDArray maps a Postgres uuid[] column, such as orders.farmer_ids.
type UUIDArray []uuid.UUID

// Scan reads a Postgres array literal. NULL scans as an empty array.
func (a *UUIDArray) Scan(src any) error {
	if src == nil {
		*a = UUIDArray{}
		return nil
	}
	ids := []uuid.UUID{}
	if err := (pq.GenericArray{A: &ids}).Scan(src); err != nil {
		return fmt.Errorf("scan uuid[]: %w", err)
	}
	*a = ids
	return nil
}

func (a UUIDArray) Value() (driver.Value, error) {
	if a == nil {
		a = UUIDArray{}
	}
	return pq.GenericArray{A: []uuid.UUID(a)}.Value()
}

func (a UUIDArray) Contains(id uuid.UUID) bool {
	return slices.Contains(a, id)
}

// AppendUnique appends id unless it is already present.
func (a UUIDArray) AppendUnique(id uuid.UUID) UUIDArray {
	if a.Contains(id) {
		return a
	}
	return append(a, id)
}
