// Package refnum issues human-readable reference numbers that are unique per
// (tenant, entity family). Numbers come from a per-tenant monotonic counter,
// so concurrent creation can never collide.
package refnum

import (
	"context"
	"errors"
	"fmt"
)

// Family identifies the entity family a reference number belongs to.
type Family string

const (
	FamilyPurchaseOrder  Family = "PO"
	FamilyStockMovement  Family = "SM"
	FamilyStockCount     Family = "CNT"
	FamilyReconciliation Family = "REC"
	FamilyDeposit        Family = "DEP"
	FamilyCollection     Family = "RCPT"
)

// ErrUnknownFamily indicates an unregistered prefix.
var ErrUnknownFamily = errors.New("refnum: unknown entity family")

// Generator issues the next reference number for a tenant and family.
// Numbers are generated before the header is stored and never regenerated.
type Generator interface {
	Next(ctx context.Context, tenantID int64, family Family) (string, error)
}

// Format renders a counter value in the canonical form, e.g. PO-000042.
func Format(family Family, value int64) string {
	return fmt.Sprintf("%s-%06d", family, value)
}

func validFamily(family Family) bool {
	switch family {
	case FamilyPurchaseOrder, FamilyStockMovement, FamilyStockCount,
		FamilyReconciliation, FamilyDeposit, FamilyCollection:
		return true
	}
	return false
}
