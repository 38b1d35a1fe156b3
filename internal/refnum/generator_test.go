package refnum

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	require.Equal(t, "PO-000042", Format(FamilyPurchaseOrder, 42))
	require.Equal(t, "RCPT-000001", Format(FamilyCollection, 1))
}

func TestMemoryGeneratorScopesByTenantAndFamily(t *testing.T) {
	gen := NewMemoryGenerator()
	ctx := context.Background()

	first, err := gen.Next(ctx, 1, FamilyPurchaseOrder)
	require.NoError(t, err)
	require.Equal(t, "PO-000001", first)

	second, err := gen.Next(ctx, 1, FamilyPurchaseOrder)
	require.NoError(t, err)
	require.Equal(t, "PO-000002", second)

	otherTenant, err := gen.Next(ctx, 2, FamilyPurchaseOrder)
	require.NoError(t, err)
	require.Equal(t, "PO-000001", otherTenant)

	otherFamily, err := gen.Next(ctx, 1, FamilyStockMovement)
	require.NoError(t, err)
	require.Equal(t, "SM-000001", otherFamily)
}

func TestMemoryGeneratorRejectsUnknownFamily(t *testing.T) {
	gen := NewMemoryGenerator()
	_, err := gen.Next(context.Background(), 1, Family("XX"))
	require.ErrorIs(t, err, ErrUnknownFamily)
}

func TestMemoryGeneratorConcurrentUnique(t *testing.T) {
	gen := NewMemoryGenerator()
	ctx := context.Background()

	const n = 64
	var wg sync.WaitGroup
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := gen.Next(ctx, 7, FamilyDeposit)
			require.NoError(t, err)
			results <- number
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool, n)
	for number := range results {
		require.False(t, seen[number], "duplicate reference %s", number)
		seen[number] = true
	}
	require.Len(t, seen, n)
}
