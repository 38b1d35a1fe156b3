// Package ledger models the side-effect instructions emitted by lifecycle
// transitions. Engines only describe what must change; appliers execute the
// deltas inside the same transaction as the status write.
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fieldline-dms/fieldline/internal/shared"
)

// Kind enumerates the supported side-effect instructions.
type Kind string

const (
	// KindInbound increases warehouse stock (e.g. receiving a purchase order).
	KindInbound Kind = "INBOUND"
	// KindOutbound decreases warehouse stock.
	KindOutbound Kind = "OUTBOUND"
	// KindAdjust applies a signed correction (e.g. stock count variance).
	KindAdjust Kind = "ADJUST"
	// KindCash records a cash ledger movement (e.g. a confirmed deposit).
	KindCash Kind = "CASH"
)

// Instruction describes one delta for a collaborator to apply.
type Instruction struct {
	Kind        Kind
	WarehouseID int64
	ProductID   int64
	Qty         decimal.Decimal // signed for KindAdjust, positive otherwise
	Amount      decimal.Decimal // KindCash only
	RefFamily   string
	RefNumber   string
	Reason      string
}

// QtyDelta returns the signed stock change the instruction stands for.
func (i Instruction) QtyDelta() decimal.Decimal {
	switch i.Kind {
	case KindOutbound:
		return i.Qty.Neg()
	default:
		return i.Qty
	}
}

// Validate checks structural soundness before an applier touches storage.
func (i Instruction) Validate() error {
	switch i.Kind {
	case KindInbound, KindOutbound:
		if i.WarehouseID == 0 || i.ProductID == 0 {
			return fmt.Errorf("%w: %s instruction requires warehouse and product", shared.ErrValidation, i.Kind)
		}
		if !i.Qty.IsPositive() {
			return fmt.Errorf("%w: %s instruction requires positive quantity", shared.ErrValidation, i.Kind)
		}
	case KindAdjust:
		if i.WarehouseID == 0 || i.ProductID == 0 {
			return fmt.Errorf("%w: adjust instruction requires warehouse and product", shared.ErrValidation)
		}
		if i.Qty.IsZero() {
			return fmt.Errorf("%w: adjust instruction requires non-zero quantity", shared.ErrValidation)
		}
	case KindCash:
		if i.Amount.IsZero() {
			return fmt.Errorf("%w: cash instruction requires non-zero amount", shared.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown instruction kind %q", shared.ErrValidation, i.Kind)
	}
	if i.RefNumber == "" {
		return fmt.Errorf("%w: instruction requires originating reference", shared.ErrValidation)
	}
	return nil
}
