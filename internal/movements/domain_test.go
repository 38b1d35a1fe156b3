package movements

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fieldline-dms/fieldline/internal/ledger"
	"github.com/fieldline-dms/fieldline/internal/shared"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func transfer() Movement {
	return Movement{
		ID:              1,
		TenantID:        1,
		Number:          "SM-000001",
		Kind:            KindTransfer,
		ProductID:       101,
		FromWarehouseID: 3,
		ToWarehouseID:   4,
		Quantity:        dec("10"),
		Status:          StatusPending,
	}
}

func TestValidateTransfer(t *testing.T) {
	m := transfer()
	require.NoError(t, m.Validate())

	same := m
	same.ToWarehouseID = same.FromWarehouseID
	err := same.Validate()
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "must differ")

	missing := m
	missing.ToWarehouseID = 0
	require.ErrorIs(t, missing.Validate(), shared.ErrValidation)

	negative := m
	negative.Quantity = dec("-1")
	require.ErrorIs(t, negative.Validate(), shared.ErrValidation)
}

func TestValidateSingleWarehouseKinds(t *testing.T) {
	ret := Movement{Kind: KindReturn, ProductID: 101, ToWarehouseID: 3, Quantity: dec("5")}
	require.NoError(t, ret.Validate())
	ret.ToWarehouseID = 0
	require.ErrorIs(t, ret.Validate(), shared.ErrValidation)

	damage := Movement{Kind: KindDamage, ProductID: 101, FromWarehouseID: 3, Quantity: dec("5")}
	require.NoError(t, damage.Validate())
	damage.FromWarehouseID = 0
	require.ErrorIs(t, damage.Validate(), shared.ErrValidation)

	// Adjustments carry signed quantities.
	adj := Movement{Kind: KindAdjustment, ProductID: 101, FromWarehouseID: 3, Quantity: dec("-4")}
	require.NoError(t, adj.Validate())
	adj.Quantity = decimal.Zero
	require.ErrorIs(t, adj.Validate(), shared.ErrValidation)

	unknown := Movement{Kind: Kind("teleport"), ProductID: 101, Quantity: dec("1")}
	require.ErrorIs(t, unknown.Validate(), shared.ErrValidation)
}

func TestLifecycleGuards(t *testing.T) {
	m := transfer()
	actor := shared.Actor{TenantID: 1, UserID: 9}
	now := time.Now()

	_, _, err := m.Complete(nil, actor, now)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Contains(t, err.Error(), "not yet approved")

	approved, err := m.Approve(actor, now)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)

	_, err = approved.Approve(actor, now)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	completed, _, err := approved.Complete(nil, actor, now)
	require.NoError(t, err)
	require.True(t, completed.Status.Terminal())

	_, _, err = completed.Complete(nil, actor, now)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Contains(t, err.Error(), "already completed")

	_, err = completed.Cancel("late", now)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestCancelFromPendingAndApproved(t *testing.T) {
	m := transfer()
	actor := shared.Actor{TenantID: 1, UserID: 9}
	now := time.Now()

	cancelled, err := m.Cancel("wrong product", now)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, "wrong product", cancelled.CancelledReason)

	approved, err := m.Approve(actor, now)
	require.NoError(t, err)
	cancelled, err = approved.Cancel("van broke down", now)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
}

func TestCompleteTransferEmitsBothLegs(t *testing.T) {
	m := transfer()
	actor := shared.Actor{TenantID: 1, UserID: 9}
	now := time.Now()
	approved, err := m.Approve(actor, now)
	require.NoError(t, err)

	eight := dec("8")
	completed, instructions, err := approved.Complete(&eight, actor, now)
	require.NoError(t, err)
	require.True(t, completed.ReceivedQty.Decimal.Equal(dec("8")))
	require.True(t, completed.Variance.Decimal.Equal(dec("-2")))

	require.Len(t, instructions, 2)
	require.Equal(t, ledger.KindOutbound, instructions[0].Kind)
	require.Equal(t, int64(3), instructions[0].WarehouseID)
	require.True(t, instructions[0].QtyDelta().Equal(dec("-8")))
	require.Equal(t, ledger.KindInbound, instructions[1].Kind)
	require.Equal(t, int64(4), instructions[1].WarehouseID)
	require.True(t, instructions[1].QtyDelta().Equal(dec("8")))
}

func TestCompleteDefaultsToRequestedQuantity(t *testing.T) {
	m := transfer()
	actor := shared.Actor{TenantID: 1, UserID: 9}
	now := time.Now()
	approved, err := m.Approve(actor, now)
	require.NoError(t, err)

	completed, instructions, err := approved.Complete(nil, actor, now)
	require.NoError(t, err)
	require.True(t, completed.ReceivedQty.Decimal.Equal(dec("10")))
	require.True(t, completed.Variance.Decimal.IsZero())
	require.Len(t, instructions, 2)
}

func TestCompleteSingleWarehouseKinds(t *testing.T) {
	actor := shared.Actor{TenantID: 1, UserID: 9}
	now := time.Now()

	ret := Movement{Number: "SM-000002", Kind: KindReturn, ProductID: 101, ToWarehouseID: 3, Quantity: dec("5"), Status: StatusApproved}
	_, instructions, err := ret.Complete(nil, actor, now)
	require.NoError(t, err)
	require.Len(t, instructions, 1)
	require.Equal(t, ledger.KindInbound, instructions[0].Kind)
	require.True(t, instructions[0].QtyDelta().Equal(dec("5")))

	damage := Movement{Number: "SM-000003", Kind: KindDamage, ProductID: 101, FromWarehouseID: 3, Quantity: dec("2"), Status: StatusApproved}
	_, instructions, err = damage.Complete(nil, actor, now)
	require.NoError(t, err)
	require.Len(t, instructions, 1)
	require.Equal(t, ledger.KindOutbound, instructions[0].Kind)
	require.True(t, instructions[0].QtyDelta().Equal(dec("-2")))

	adj := Movement{Number: "SM-000004", Kind: KindAdjustment, ProductID: 101, FromWarehouseID: 3, Quantity: dec("-4"), Status: StatusApproved}
	_, instructions, err = adj.Complete(nil, actor, now)
	require.NoError(t, err)
	require.Len(t, instructions, 1)
	require.Equal(t, ledger.KindAdjust, instructions[0].Kind)
	require.True(t, instructions[0].QtyDelta().Equal(dec("-4")))
}

func TestCompleteZeroReceivedEmitsNothing(t *testing.T) {
	m := transfer()
	actor := shared.Actor{TenantID: 1, UserID: 9}
	now := time.Now()
	approved, err := m.Approve(actor, now)
	require.NoError(t, err)

	zero := decimal.Zero
	completed, instructions, err := approved.Complete(&zero, actor, now)
	require.NoError(t, err)
	require.True(t, completed.Variance.Decimal.Equal(dec("-10")))
	require.Empty(t, instructions)
}
