// Package movements implements the stock movement lifecycle: transfers
// between warehouses plus single-warehouse adjustments, returns, damage and
// expiry write-offs.
package movements

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fieldline-dms/fieldline/internal/ledger"
	"github.com/fieldline-dms/fieldline/internal/money"
	"github.com/fieldline-dms/fieldline/internal/shared"
)

// Status enumerates the movement lifecycle.
// pending -> approved -> completed, with cancel reachable from both
// non-terminal states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Kind enumerates movement types.
type Kind string

const (
	KindTransfer   Kind = "transfer"
	KindAdjustment Kind = "adjustment"
	KindReturn     Kind = "return"
	KindDamage     Kind = "damage"
	KindExpired    Kind = "expired"
)

func validKind(k Kind) bool {
	switch k {
	case KindTransfer, KindAdjustment, KindReturn, KindDamage, KindExpired:
		return true
	}
	return false
}

// Movement is a single-product stock movement header.
type Movement struct {
	ID              int64
	TenantID        int64
	Number          string
	Kind            Kind
	ProductID       int64
	FromWarehouseID int64
	ToWarehouseID   int64
	Quantity        decimal.Decimal
	ReceivedQty     decimal.NullDecimal
	Variance        decimal.NullDecimal
	MovementDate    time.Time
	Reason          string
	Notes           string
	Status          Status
	CreatedBy       int64
	CreatedAt       time.Time
	UpdatedAt       time.Time

	ApprovedBy      int64
	ApprovedAt      time.Time
	CompletedBy     int64
	CompletedAt     time.Time
	CancelledReason string
}

// Validate checks kind-specific warehouse and quantity rules. Transfers need
// two distinct warehouses; the remaining kinds act on exactly one.
func (m Movement) Validate() error {
	if !validKind(m.Kind) {
		return fmt.Errorf("%w: unknown movement kind %q", shared.ErrValidation, m.Kind)
	}
	if m.ProductID == 0 {
		return fmt.Errorf("%w: movement requires a product", shared.ErrValidation)
	}
	switch m.Kind {
	case KindTransfer:
		if m.FromWarehouseID == 0 || m.ToWarehouseID == 0 {
			return fmt.Errorf("%w: transfer requires source and destination warehouses", shared.ErrValidation)
		}
		if m.FromWarehouseID == m.ToWarehouseID {
			return fmt.Errorf("%w: transfer source and destination must differ", shared.ErrValidation)
		}
		if !m.Quantity.IsPositive() {
			return fmt.Errorf("%w: transfer requires positive quantity", shared.ErrValidation)
		}
	case KindAdjustment:
		if m.warehouse() == 0 {
			return fmt.Errorf("%w: adjustment requires a warehouse", shared.ErrValidation)
		}
		if m.Quantity.IsZero() {
			return fmt.Errorf("%w: adjustment requires a non-zero quantity", shared.ErrValidation)
		}
	case KindReturn:
		if m.ToWarehouseID == 0 {
			return fmt.Errorf("%w: return requires a destination warehouse", shared.ErrValidation)
		}
		if !m.Quantity.IsPositive() {
			return fmt.Errorf("%w: return requires positive quantity", shared.ErrValidation)
		}
	case KindDamage, KindExpired:
		if m.FromWarehouseID == 0 {
			return fmt.Errorf("%w: %s requires a source warehouse", shared.ErrValidation, m.Kind)
		}
		if !m.Quantity.IsPositive() {
			return fmt.Errorf("%w: %s requires positive quantity", shared.ErrValidation, m.Kind)
		}
	}
	return nil
}

// warehouse returns the single warehouse a non-transfer movement acts on.
func (m Movement) warehouse() int64 {
	if m.Kind == KindReturn {
		return m.ToWarehouseID
	}
	if m.FromWarehouseID != 0 {
		return m.FromWarehouseID
	}
	return m.ToWarehouseID
}

func (m Movement) guard(action string, want Status) error {
	if m.Status == want {
		return nil
	}
	switch m.Status {
	case StatusApproved:
		return fmt.Errorf("%w: movement %s already approved", shared.ErrInvalidTransition, m.Number)
	case StatusCompleted:
		return fmt.Errorf("%w: movement %s already completed", shared.ErrInvalidTransition, m.Number)
	case StatusCancelled:
		return fmt.Errorf("%w: movement %s is cancelled", shared.ErrInvalidTransition, m.Number)
	default:
		return fmt.Errorf("%w: cannot %s movement %s while %s", shared.ErrInvalidTransition, action, m.Number, m.Status)
	}
}

// Approve moves a pending movement to approved.
func (m Movement) Approve(actor shared.Actor, now time.Time) (Movement, error) {
	if err := m.guard("approve", StatusPending); err != nil {
		return m, err
	}
	m.Status = StatusApproved
	m.ApprovedBy = actor.UserID
	m.ApprovedAt = now
	m.UpdatedAt = now
	return m, nil
}

// Cancel terminates a pending or approved movement.
func (m Movement) Cancel(reason string, now time.Time) (Movement, error) {
	if m.Status.Terminal() {
		return m, m.guard("cancel", StatusPending)
	}
	m.Status = StatusCancelled
	m.CancelledReason = reason
	m.UpdatedAt = now
	return m, nil
}

// Complete records the actual moved quantity and emits the ledger deltas.
// A nil receivedQty defaults to the requested quantity, making the stored
// variance zero.
func (m Movement) Complete(receivedQty *decimal.Decimal, actor shared.Actor, now time.Time) (Movement, []ledger.Instruction, error) {
	if m.Status == StatusPending {
		return m, nil, fmt.Errorf("%w: movement %s not yet approved", shared.ErrInvalidTransition, m.Number)
	}
	if err := m.guard("complete", StatusApproved); err != nil {
		return m, nil, err
	}

	received := m.Quantity
	if receivedQty != nil {
		if m.Kind != KindAdjustment && receivedQty.IsNegative() {
			return m, nil, fmt.Errorf("%w: negative received quantity", shared.ErrValidation)
		}
		received = *receivedQty
	}

	m.ReceivedQty = decimal.NullDecimal{Decimal: received, Valid: true}
	m.Variance = decimal.NullDecimal{Decimal: money.Variance(received, m.Quantity), Valid: true}
	m.Status = StatusCompleted
	m.CompletedBy = actor.UserID
	m.CompletedAt = now
	m.UpdatedAt = now

	instructions, err := m.instructions(received)
	if err != nil {
		return m, nil, err
	}
	return m, instructions, nil
}

func (m Movement) instructions(received decimal.Decimal) ([]ledger.Instruction, error) {
	base := ledger.Instruction{
		ProductID: m.ProductID,
		RefFamily: "SM",
		RefNumber: m.Number,
		Reason:    m.Reason,
	}
	switch m.Kind {
	case KindTransfer:
		if received.IsZero() {
			return nil, nil
		}
		out := base
		out.Kind = ledger.KindOutbound
		out.WarehouseID = m.FromWarehouseID
		out.Qty = received
		in := base
		in.Kind = ledger.KindInbound
		in.WarehouseID = m.ToWarehouseID
		in.Qty = received
		return []ledger.Instruction{out, in}, nil
	case KindAdjustment:
		if received.IsZero() {
			return nil, nil
		}
		adj := base
		adj.Kind = ledger.KindAdjust
		adj.WarehouseID = m.warehouse()
		adj.Qty = received
		return []ledger.Instruction{adj}, nil
	case KindReturn:
		if received.IsZero() {
			return nil, nil
		}
		in := base
		in.Kind = ledger.KindInbound
		in.WarehouseID = m.ToWarehouseID
		in.Qty = received
		return []ledger.Instruction{in}, nil
	case KindDamage, KindExpired:
		if received.IsZero() {
			return nil, nil
		}
		out := base
		out.Kind = ledger.KindOutbound
		out.WarehouseID = m.FromWarehouseID
		out.Qty = received
		return []ledger.Instruction{out}, nil
	}
	return nil, fmt.Errorf("%w: unknown movement kind %q", shared.ErrValidation, m.Kind)
}
