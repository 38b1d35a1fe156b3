package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fieldline-dms/fieldline/internal/shared"
)

func TestQtyDelta(t *testing.T) {
	five := decimal.NewFromInt(5)

	in := Instruction{Kind: KindInbound, Qty: five}
	require.True(t, in.QtyDelta().Equal(five))

	out := Instruction{Kind: KindOutbound, Qty: five}
	require.True(t, out.QtyDelta().Equal(five.Neg()))

	adj := Instruction{Kind: KindAdjust, Qty: five.Neg()}
	require.True(t, adj.QtyDelta().Equal(five.Neg()))
}

func TestInstructionValidate(t *testing.T) {
	valid := Instruction{
		Kind:        KindInbound,
		WarehouseID: 1,
		ProductID:   2,
		Qty:         decimal.NewFromInt(3),
		RefFamily:   "PO",
		RefNumber:   "PO-000001",
	}
	require.NoError(t, valid.Validate())

	missingRef := valid
	missingRef.RefNumber = ""
	require.ErrorIs(t, missingRef.Validate(), shared.ErrValidation)

	zeroQty := valid
	zeroQty.Qty = decimal.Zero
	require.ErrorIs(t, zeroQty.Validate(), shared.ErrValidation)

	noWarehouse := valid
	noWarehouse.WarehouseID = 0
	require.ErrorIs(t, noWarehouse.Validate(), shared.ErrValidation)

	zeroAdjust := Instruction{Kind: KindAdjust, WarehouseID: 1, ProductID: 2, Qty: decimal.Zero, RefNumber: "CNT-000001"}
	require.ErrorIs(t, zeroAdjust.Validate(), shared.ErrValidation)

	cash := Instruction{Kind: KindCash, Amount: decimal.NewFromInt(100), RefFamily: "DEP", RefNumber: "DEP-000001"}
	require.NoError(t, cash.Validate())

	zeroCash := Instruction{Kind: KindCash, RefNumber: "DEP-000002"}
	require.ErrorIs(t, zeroCash.Validate(), shared.ErrValidation)

	unknown := Instruction{Kind: Kind("X"), RefNumber: "PO-000001"}
	require.ErrorIs(t, unknown.Validate(), shared.ErrValidation)
}
