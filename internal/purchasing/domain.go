package purchasing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fieldline-dms/fieldline/internal/ledger"
	"github.com/fieldline-dms/fieldline/internal/money"
	"github.com/fieldline-dms/fieldline/internal/shared"
)

// Status enumerates the purchase order lifecycle.
// The only legal path is draft -> approved -> received, with cancel
// reachable from draft.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusApproved  Status = "approved"
	StatusReceived  Status = "received"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusReceived || s == StatusCancelled
}

// PurchaseOrder is the header of the purchase order family.
type PurchaseOrder struct {
	ID           int64
	TenantID     int64
	Number       string
	SupplierID   int64
	WarehouseID  int64
	OrderDate    time.Time
	ExpectedDate time.Time
	Status       Status
	TaxRate      decimal.Decimal
	Discount     decimal.Decimal
	Notes        string
	CreatedBy    int64
	CreatedAt    time.Time
	UpdatedAt    time.Time

	ApprovedBy      int64
	ApprovedAt      time.Time
	ReceivedBy      int64
	ReceivedAt      time.Time
	ReceiveNotes    string
	CancelledReason string
}

// Item is one product line of a purchase order. ReceivedQuantity stays null
// until the receive transition records it.
type Item struct {
	ID               int64
	POID             int64
	ProductID        int64
	Quantity         decimal.Decimal
	UnitPrice        decimal.Decimal
	ReceivedQuantity decimal.NullDecimal
	Notes            string
}

// Variance returns received − ordered, or zero while nothing is recorded.
// It is always derived, never written directly.
func (it Item) Variance() decimal.Decimal {
	if !it.ReceivedQuantity.Valid {
		return decimal.Zero
	}
	return money.Variance(it.ReceivedQuantity.Decimal, it.Quantity)
}

// Totals derives subtotal, tax and grand total from the order's items.
func (po PurchaseOrder) Totals(items []Item) (money.Totals, error) {
	lines := make([]money.Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, money.Line{Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return money.Calculate(lines, po.TaxRate, po.Discount)
}

// ReceiveItem carries the actual received quantity for one product.
type ReceiveItem struct {
	ProductID        int64
	ReceivedQuantity decimal.Decimal
	Notes            string
}

func (po PurchaseOrder) guard(action string, want Status) error {
	if po.Status == want {
		return nil
	}
	switch po.Status {
	case StatusApproved:
		return fmt.Errorf("%w: purchase order %s already approved", shared.ErrInvalidTransition, po.Number)
	case StatusReceived:
		return fmt.Errorf("%w: purchase order %s already received", shared.ErrInvalidTransition, po.Number)
	case StatusCancelled:
		return fmt.Errorf("%w: purchase order %s is cancelled", shared.ErrInvalidTransition, po.Number)
	default:
		return fmt.Errorf("%w: cannot %s purchase order %s while %s", shared.ErrInvalidTransition, action, po.Number, po.Status)
	}
}

// Approve moves a draft order to approved. Pure: the caller persists the
// result with a conditional write on the prior status.
func (po PurchaseOrder) Approve(actor shared.Actor, now time.Time) (PurchaseOrder, error) {
	if err := po.guard("approve", StatusDraft); err != nil {
		return po, err
	}
	po.Status = StatusApproved
	po.ApprovedBy = actor.UserID
	po.ApprovedAt = now
	po.UpdatedAt = now
	return po, nil
}

// Cancel terminates a draft order.
func (po PurchaseOrder) Cancel(reason string, now time.Time) (PurchaseOrder, error) {
	if err := po.guard("cancel", StatusDraft); err != nil {
		return po, err
	}
	po.Status = StatusCancelled
	po.CancelledReason = reason
	po.UpdatedAt = now
	return po, nil
}

// Receive records actual quantities and emits the inventory deltas to post.
// Items missing from the payload default to the ordered quantity, so their
// variance is zero. Returns the updated header, the updated items, and the
// inbound instructions for the order's warehouse.
func (po PurchaseOrder) Receive(items []Item, received []ReceiveItem, notes string, actor shared.Actor, now time.Time) (PurchaseOrder, []Item, []ledger.Instruction, error) {
	if po.Status == StatusDraft {
		return po, nil, nil, fmt.Errorf("%w: purchase order %s not yet approved", shared.ErrInvalidTransition, po.Number)
	}
	if err := po.guard("receive", StatusApproved); err != nil {
		return po, nil, nil, err
	}
	if po.WarehouseID == 0 {
		return po, nil, nil, fmt.Errorf("%w: purchase order %s has no destination warehouse", shared.ErrValidation, po.Number)
	}

	byProduct := make(map[int64]ReceiveItem, len(received))
	for _, r := range received {
		if r.ReceivedQuantity.IsNegative() {
			return po, nil, nil, fmt.Errorf("%w: negative received quantity for product %d", shared.ErrValidation, r.ProductID)
		}
		byProduct[r.ProductID] = r
	}
	known := make(map[int64]bool, len(items))
	for _, it := range items {
		known[it.ProductID] = true
	}
	for productID := range byProduct {
		if !known[productID] {
			return po, nil, nil, fmt.Errorf("%w: product %d is not on purchase order %s", shared.ErrValidation, productID, po.Number)
		}
	}

	updated := make([]Item, len(items))
	var instructions []ledger.Instruction
	for i, it := range items {
		qty := it.Quantity
		if r, ok := byProduct[it.ProductID]; ok {
			qty = r.ReceivedQuantity
			it.Notes = r.Notes
		}
		it.ReceivedQuantity = decimal.NullDecimal{Decimal: qty, Valid: true}
		updated[i] = it
		if qty.IsPositive() {
			instructions = append(instructions, ledger.Instruction{
				Kind:        ledger.KindInbound,
				WarehouseID: po.WarehouseID,
				ProductID:   it.ProductID,
				Qty:         qty,
				RefFamily:   "PO",
				RefNumber:   po.Number,
				Reason:      "purchase order received",
			})
		}
	}

	po.Status = StatusReceived
	po.ReceivedBy = actor.UserID
	po.ReceivedAt = now
	po.ReceiveNotes = notes
	po.UpdatedAt = now
	return po, updated, instructions, nil
}
