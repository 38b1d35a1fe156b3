// Package counts implements the stock count lifecycle. A count snapshots the
// system quantity per product, records what was physically counted, and
// reconciles the difference into warehouse stock on completion.
package counts

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fieldline-dms/fieldline/internal/ledger"
	"github.com/fieldline-dms/fieldline/internal/money"
	"github.com/fieldline-dms/fieldline/internal/shared"
)

// Status enumerates the stock count lifecycle.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CountType distinguishes partial cycle counts from full warehouse counts.
type CountType string

const (
	TypeCycle CountType = "cycle"
	TypeFull  CountType = "full"
)

func validType(t CountType) bool {
	return t == TypeCycle || t == TypeFull
}

// StockCount is the count header.
type StockCount struct {
	ID          int64
	TenantID    int64
	Number      string
	WarehouseID int64
	CountDate   time.Time
	CountType   CountType
	Status      Status
	Notes       string
	CreatedBy   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time

	CompletedBy     int64
	CompletedAt     time.Time
	CancelledReason string
}

// Item is one product line. CountedQty stays null until completion records it.
type Item struct {
	ID         int64
	CountID    int64
	ProductID  int64
	SystemQty  decimal.Decimal
	CountedQty decimal.NullDecimal
	Notes      string
}

// Variance returns counted − system, or zero while nothing is recorded.
func (it Item) Variance() decimal.Decimal {
	if !it.CountedQty.Valid {
		return decimal.Zero
	}
	return money.Variance(it.CountedQty.Decimal, it.SystemQty)
}

// CountedItem carries the physically counted quantity for one product.
type CountedItem struct {
	ProductID  int64
	CountedQty decimal.Decimal
	Notes      string
}

func (c StockCount) guard(action string) error {
	switch c.Status {
	case StatusDraft:
		return nil
	case StatusCompleted:
		return fmt.Errorf("%w: stock count %s already completed", shared.ErrInvalidTransition, c.Number)
	case StatusCancelled:
		return fmt.Errorf("%w: stock count %s is cancelled", shared.ErrInvalidTransition, c.Number)
	default:
		return fmt.Errorf("%w: cannot %s stock count %s while %s", shared.ErrInvalidTransition, action, c.Number, c.Status)
	}
}

// Cancel terminates a draft count.
func (c StockCount) Cancel(reason string, now time.Time) (StockCount, error) {
	if err := c.guard("cancel"); err != nil {
		return c, err
	}
	c.Status = StatusCancelled
	c.CancelledReason = reason
	c.UpdatedAt = now
	return c, nil
}

// Complete records counted quantities and emits one compensating adjustment
// per variant line, so warehouse stock ends up equal to what was counted.
// Lines missing from the payload default to the system quantity.
func (c StockCount) Complete(items []Item, counted []CountedItem, actor shared.Actor, now time.Time) (StockCount, []Item, []ledger.Instruction, error) {
	if err := c.guard("complete"); err != nil {
		return c, nil, nil, err
	}
	if len(items) == 0 {
		return c, nil, nil, fmt.Errorf("%w: stock count %s has no items", shared.ErrValidation, c.Number)
	}

	byProduct := make(map[int64]CountedItem, len(counted))
	for _, r := range counted {
		if r.CountedQty.IsNegative() {
			return c, nil, nil, fmt.Errorf("%w: negative counted quantity for product %d", shared.ErrValidation, r.ProductID)
		}
		byProduct[r.ProductID] = r
	}
	known := make(map[int64]bool, len(items))
	for _, it := range items {
		known[it.ProductID] = true
	}
	for productID := range byProduct {
		if !known[productID] {
			return c, nil, nil, fmt.Errorf("%w: product %d is not on stock count %s", shared.ErrValidation, productID, c.Number)
		}
	}

	updated := make([]Item, len(items))
	var instructions []ledger.Instruction
	for i, it := range items {
		qty := it.SystemQty
		if r, ok := byProduct[it.ProductID]; ok {
			qty = r.CountedQty
			it.Notes = r.Notes
		}
		it.CountedQty = decimal.NullDecimal{Decimal: qty, Valid: true}
		updated[i] = it

		if variance := it.Variance(); !variance.IsZero() {
			instructions = append(instructions, ledger.Instruction{
				Kind:        ledger.KindAdjust,
				WarehouseID: c.WarehouseID,
				ProductID:   it.ProductID,
				Qty:         variance,
				RefFamily:   "CNT",
				RefNumber:   c.Number,
				Reason:      "stock count reconciliation",
			})
		}
	}

	c.Status = StatusCompleted
	c.CompletedBy = actor.UserID
	c.CompletedAt = now
	c.UpdatedAt = now
	return c, updated, instructions, nil
}
