package counts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fieldline-dms/fieldline/internal/ledger"
	"github.com/fieldline-dms/fieldline/internal/refnum"
	"github.com/fieldline-dms/fieldline/internal/shared"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type memoryRepo struct {
	mu      sync.Mutex
	nextID  int64
	counts  map[int64]StockCount
	items   map[int64][]Item
	applied []ledger.Instruction
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		counts: make(map[int64]StockCount),
		items:  make(map[int64][]Item),
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, (*memoryTx)(m))
}

func (m *memoryRepo) Get(ctx context.Context, tenantID, id int64) (StockCount, []Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counts[id]
	if !ok || c.TenantID != tenantID {
		return StockCount{}, nil, fmt.Errorf("%w: stock count %d", shared.ErrNotFound, id)
	}
	return c, append([]Item(nil), m.items[id]...), nil
}

func (m *memoryRepo) List(ctx context.Context, tenantID int64, filter ListFilter) ([]StockCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StockCount
	for _, c := range m.counts {
		if c.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

type memoryTx memoryRepo

func (m *memoryTx) Insert(ctx context.Context, c StockCount) (int64, error) {
	m.nextID++
	c.ID = m.nextID
	m.counts[c.ID] = c
	return c.ID, nil
}

func (m *memoryTx) InsertItems(ctx context.Context, countID int64, items []Item) error {
	m.items[countID] = append(m.items[countID], items...)
	return nil
}

func (m *memoryTx) Transition(ctx context.Context, c StockCount, from Status) (bool, error) {
	current, ok := m.counts[c.ID]
	if !ok || current.TenantID != c.TenantID || current.Status != from {
		return false, nil
	}
	m.counts[c.ID] = c
	return true, nil
}

func (m *memoryTx) SetItemCounted(ctx context.Context, countID int64, item Item) error {
	items := m.items[countID]
	for i := range items {
		if items[i].ProductID == item.ProductID {
			items[i].CountedQty = item.CountedQty
		}
	}
	return nil
}

func (m *memoryTx) Delete(ctx context.Context, tenantID, id int64) (bool, error) {
	c, ok := m.counts[id]
	if !ok || c.TenantID != tenantID || c.Status != StatusDraft {
		return false, nil
	}
	delete(m.counts, id)
	delete(m.items, id)
	return true, nil
}

func (m *memoryTx) ApplyLedger(ctx context.Context, tenantID int64, instructions []ledger.Instruction) error {
	for _, in := range instructions {
		if err := in.Validate(); err != nil {
			return err
		}
	}
	m.applied = append(m.applied, instructions...)
	return nil
}

func newTestService() (*Service, *memoryRepo) {
	repo := newMemoryRepo()
	return NewService(repo, refnum.NewMemoryGenerator(), nil), repo
}

func countInput() CreateInput {
	return CreateInput{
		WarehouseID: 3,
		CountType:   TypeCycle,
		Items: []ItemInput{
			{ProductID: 101, SystemQty: dec("20")},
			{ProductID: 102, SystemQty: dec("15")},
		},
	}
}

func TestCreateSnapshotsSystemQuantities(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	c, items, err := svc.Create(ctx, actor, countInput())
	require.NoError(t, err)
	require.Equal(t, "CNT-000001", c.Number)
	require.Equal(t, StatusDraft, c.Status)
	require.Len(t, items, 2)
	require.False(t, items[0].CountedQty.Valid)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	input := countInput()
	input.WarehouseID = 0
	_, _, err := svc.Create(ctx, actor, input)
	require.ErrorIs(t, err, shared.ErrValidation)

	input = countInput()
	input.CountType = CountType("annual")
	_, _, err = svc.Create(ctx, actor, input)
	require.ErrorIs(t, err, shared.ErrValidation)

	input = countInput()
	input.Items = nil
	_, _, err = svc.Create(ctx, actor, input)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCompleteEmitsCompensatingAdjustments(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	c, _, err := svc.Create(ctx, actor, countInput())
	require.NoError(t, err)

	// Product 101 counts three short; product 102 is omitted and defaults to
	// the system quantity.
	completed, items, err := svc.Complete(ctx, actor, c.ID, CompleteInput{
		Items: []CountedItem{{ProductID: 101, CountedQty: dec("17")}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)
	require.True(t, items[0].Variance().Equal(dec("-3")))
	require.True(t, items[1].Variance().IsZero())

	require.Len(t, repo.applied, 1)
	adj := repo.applied[0]
	require.Equal(t, ledger.KindAdjust, adj.Kind)
	require.Equal(t, int64(101), adj.ProductID)
	require.Equal(t, int64(3), adj.WarehouseID)
	require.True(t, adj.QtyDelta().Equal(dec("-3")), "negative variance decreases stock")
	require.Equal(t, "CNT-000001", adj.RefNumber)
}

func TestCompleteIsTerminal(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	c, _, err := svc.Create(ctx, actor, countInput())
	require.NoError(t, err)
	_, _, err = svc.Complete(ctx, actor, c.ID, CompleteInput{})
	require.NoError(t, err)

	_, _, err = svc.Complete(ctx, actor, c.ID, CompleteInput{})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Contains(t, err.Error(), "already completed")

	_, err = svc.Cancel(ctx, actor, c.ID, "too late")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestCompleteRejectsUnknownAndNegative(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	c, _, err := svc.Create(ctx, actor, countInput())
	require.NoError(t, err)

	_, _, err = svc.Complete(ctx, actor, c.ID, CompleteInput{
		Items: []CountedItem{{ProductID: 999, CountedQty: dec("1")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = svc.Complete(ctx, actor, c.ID, CompleteInput{
		Items: []CountedItem{{ProductID: 101, CountedQty: dec("-1")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestConcurrentComplete(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	c, _, err := svc.Create(ctx, actor, countInput())
	require.NoError(t, err)

	const workers = 8
	errs := make(chan error, workers)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < workers; i++ {
		go func() {
			start.Wait()
			_, _, err := svc.Complete(ctx, actor, c.ID, CompleteInput{
				Items: []CountedItem{{ProductID: 101, CountedQty: dec("17")}},
			})
			errs <- err
		}()
	}
	start.Done()

	var succeeded int
	for i := 0; i < workers; i++ {
		err := <-errs
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrInvalidTransition):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, succeeded)
	require.Len(t, repo.applied, 1, "adjustment must post exactly once")
}

func TestTenantIsolation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	c, _, err := svc.Create(ctx, shared.Actor{TenantID: 1, UserID: 9}, countInput())
	require.NoError(t, err)

	_, _, err = svc.Get(ctx, shared.Actor{TenantID: 2, UserID: 9}, c.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, _, err = svc.Complete(ctx, shared.Actor{TenantID: 2, UserID: 9}, c.ID, CompleteInput{})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeleteDraftOnly(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	c, _, err := svc.Create(ctx, actor, countInput())
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, actor, c.ID))

	c, _, err = svc.Create(ctx, actor, countInput())
	require.NoError(t, err)
	_, _, err = svc.Complete(ctx, actor, c.ID, CompleteInput{})
	require.NoError(t, err)
	require.ErrorIs(t, svc.Delete(ctx, actor, c.ID), shared.ErrInvalidTransition)
}
