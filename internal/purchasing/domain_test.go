package purchasing

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

func draftOrder() (PurchaseOrder, []Item) {
	po := PurchaseOrder{
		ID:          1,
		TenantID:    1,
		Number:      "PO-000001",
		SupplierID:  7,
		WarehouseID: 3,
		Status:      StatusDraft,
		TaxRate:     dec("10"),
	}
	items := []Item{
		{ID: 1, POID: 1, ProductID: 101, Quantity: dec("2"), UnitPrice: dec("10")},
		{ID: 2, POID: 1, ProductID: 102, Quantity: dec("4"), UnitPrice: dec("10")},
	}
	return po, items
}

func TestTotals(t *testing.T) {
	po, items := draftOrder()
	totals, err := po.Totals(items)
	require.NoError(t, err)
	require.True(t, totals.Subtotal.Equal(dec("60")), "subtotal = %s", totals.Subtotal)
	require.True(t, totals.Tax.Equal(dec("6")), "tax = %s", totals.Tax)
	require.True(t, totals.Total.Equal(dec("66")), "total = %s", totals.Total)
}

func TestApprove(t *testing.T) {
	po, _ := draftOrder()
	now := time.Now()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	approved, err := po.Approve(actor, now)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.Equal(t, int64(9), approved.ApprovedBy)
	require.Equal(t, now, approved.ApprovedAt)

	_, err = approved.Approve(actor, now)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Contains(t, err.Error(), "already approved")
}

func TestCancelOnlyFromDraft(t *testing.T) {
	po, _ := draftOrder()
	now := time.Now()

	cancelled, err := po.Cancel("supplier out of business", now)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, "supplier out of business", cancelled.CancelledReason)
	require.True(t, cancelled.Status.Terminal())

	approved, err := po.Approve(shared.Actor{TenantID: 1, UserID: 9}, now)
	require.NoError(t, err)
	_, err = approved.Cancel("too late", now)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = cancelled.Approve(shared.Actor{TenantID: 1, UserID: 9}, now)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Contains(t, err.Error(), "cancelled")
}

func TestReceiveRequiresApproval(t *testing.T) {
	po, items := draftOrder()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	_, _, _, err := po.Receive(items, nil, "", actor, time.Now())
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Contains(t, err.Error(), "not yet approved")
}

func TestReceiveVariance(t *testing.T) {
	po, items := draftOrder()
	actor := shared.Actor{TenantID: 1, UserID: 9}
	now := time.Now()
	po, err := po.Approve(actor, now)
	require.NoError(t, err)

	received, updated, instructions, err := po.Receive(items, []ReceiveItem{
		{ProductID: 102, ReceivedQuantity: dec("3")},
	}, "one unit short", actor, now)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, received.Status)
	require.Equal(t, "one unit short", received.ReceiveNotes)

	// Line 1 was absent from the payload and defaults to ordered quantity.
	require.True(t, updated[0].ReceivedQuantity.Valid)
	require.True(t, updated[0].Variance().IsZero())
	require.True(t, updated[1].Variance().Equal(dec("-1")), "variance = %s", updated[1].Variance())

	require.Len(t, instructions, 2)
	for _, in := range instructions {
		require.Equal(t, ledger.KindInbound, in.Kind)
		require.Equal(t, int64(3), in.WarehouseID)
		require.Equal(t, "PO-000001", in.RefNumber)
	}
	require.True(t, instructions[1].Qty.Equal(dec("3")))
}

func TestReceiveRejectsBadPayload(t *testing.T) {
	po, items := draftOrder()
	actor := shared.Actor{TenantID: 1, UserID: 9}
	now := time.Now()
	po, err := po.Approve(actor, now)
	require.NoError(t, err)

	_, _, _, err = po.Receive(items, []ReceiveItem{
		{ProductID: 999, ReceivedQuantity: dec("1")},
	}, "", actor, now)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, _, err = po.Receive(items, []ReceiveItem{
		{ProductID: 101, ReceivedQuantity: dec("-1")},
	}, "", actor, now)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReceiveZeroQuantityEmitsNoInstruction(t *testing.T) {
	po, items := draftOrder()
	actor := shared.Actor{TenantID: 1, UserID: 9}
	now := time.Now()
	po, err := po.Approve(actor, now)
	require.NoError(t, err)

	_, updated, instructions, err := po.Receive(items, []ReceiveItem{
		{ProductID: 101, ReceivedQuantity: dec("0")},
		{ProductID: 102, ReceivedQuantity: dec("4")},
	}, "", actor, now)
	require.NoError(t, err)
	require.True(t, updated[0].Variance().Equal(dec("-2")))
	require.Len(t, instructions, 1)
	require.Equal(t, int64(102), instructions[0].ProductID)
}
