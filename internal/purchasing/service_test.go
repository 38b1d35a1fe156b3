package purchasing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldline-dms/fieldline/internal/ledger"
	"github.com/fieldline-dms/fieldline/internal/refnum"
	"github.com/fieldline-dms/fieldline/internal/shared"
)

type memoryRepo struct {
	mu      sync.Mutex
	nextID  int64
	orders  map[int64]PurchaseOrder
	items   map[int64][]Item
	applied []ledger.Instruction
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		orders: make(map[int64]PurchaseOrder),
		items:  make(map[int64][]Item),
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, (*memoryTx)(m))
}

func (m *memoryRepo) Get(ctx context.Context, tenantID, id int64) (PurchaseOrder, []Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	po, ok := m.orders[id]
	if !ok || po.TenantID != tenantID {
		return PurchaseOrder{}, nil, fmt.Errorf("%w: purchase order %d", shared.ErrNotFound, id)
	}
	return po, append([]Item(nil), m.items[id]...), nil
}

func (m *memoryRepo) List(ctx context.Context, tenantID int64, filter ListFilter) ([]PurchaseOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PurchaseOrder
	for _, po := range m.orders {
		if po.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && po.Status != filter.Status {
			continue
		}
		out = append(out, po)
	}
	return out, nil
}

func (m *memoryRepo) Stats(ctx context.Context, tenantID int64) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats Stats
	for _, po := range m.orders {
		if po.TenantID != tenantID {
			continue
		}
		stats.Total++
		switch po.Status {
		case StatusDraft:
			stats.Draft++
		case StatusApproved:
			stats.Approved++
		case StatusReceived:
			stats.Received++
		case StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

type memoryTx memoryRepo

func (m *memoryTx) Insert(ctx context.Context, po PurchaseOrder) (int64, error) {
	m.nextID++
	po.ID = m.nextID
	m.orders[po.ID] = po
	return po.ID, nil
}

func (m *memoryTx) InsertItems(ctx context.Context, poID int64, items []Item) error {
	m.items[poID] = append(m.items[poID], items...)
	return nil
}

func (m *memoryTx) ReplaceItems(ctx context.Context, poID int64, items []Item) error {
	m.items[poID] = append([]Item(nil), items...)
	return nil
}

func (m *memoryTx) UpdateDraft(ctx context.Context, po PurchaseOrder) (bool, error) {
	current, ok := m.orders[po.ID]
	if !ok || current.TenantID != po.TenantID || current.Status != StatusDraft {
		return false, nil
	}
	m.orders[po.ID] = po
	return true, nil
}

func (m *memoryTx) Transition(ctx context.Context, po PurchaseOrder, from Status) (bool, error) {
	current, ok := m.orders[po.ID]
	if !ok || current.TenantID != po.TenantID || current.Status != from {
		return false, nil
	}
	m.orders[po.ID] = po
	return true, nil
}

func (m *memoryTx) SetItemReceived(ctx context.Context, poID int64, item Item) error {
	items := m.items[poID]
	for i := range items {
		if items[i].ProductID == item.ProductID {
			items[i].ReceivedQuantity = item.ReceivedQuantity
		}
	}
	return nil
}

func (m *memoryTx) Delete(ctx context.Context, tenantID, id int64) (bool, error) {
	po, ok := m.orders[id]
	if !ok || po.TenantID != tenantID || po.Status != StatusDraft {
		return false, nil
	}
	delete(m.orders, id)
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

type memoryAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func newTestService() (*Service, *memoryRepo, *memoryAudit) {
	repo := newMemoryRepo()
	audit := &memoryAudit{}
	svc := NewService(repo, refnum.NewMemoryGenerator(), audit, nil, nil)
	return svc, repo, audit
}

func createInput() CreateInput {
	return CreateInput{
		SupplierID:  7,
		WarehouseID: 3,
		TaxRate:     dec("10"),
		Items: []ItemInput{
			{ProductID: 101, Quantity: dec("2"), UnitPrice: dec("10")},
			{ProductID: 102, Quantity: dec("4"), UnitPrice: dec("10")},
		},
	}
}

func TestServiceCreateAndGet(t *testing.T) {
	svc, _, audit := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	po, items, err := svc.Create(ctx, actor, createInput())
	require.NoError(t, err)
	require.Equal(t, "PO-000001", po.Number)
	require.Equal(t, StatusDraft, po.Status)
	require.Len(t, items, 2)

	_, _, totals, err := svc.Get(ctx, actor, po.ID)
	require.NoError(t, err)
	require.True(t, totals.Subtotal.Equal(dec("60")))
	require.True(t, totals.Tax.Equal(dec("6")))
	require.True(t, totals.Total.Equal(dec("66")))

	require.Len(t, audit.logs, 1)
	require.Equal(t, "PO_CREATE", audit.logs[0].Action)
}

func TestServiceCreateValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	input := createInput()
	input.Items = nil
	_, _, err := svc.Create(ctx, actor, input)
	require.ErrorIs(t, err, shared.ErrValidation)

	input = createInput()
	input.Items[0].Quantity = dec("0")
	_, _, err = svc.Create(ctx, actor, input)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = svc.Create(ctx, shared.Actor{}, createInput())
	require.ErrorIs(t, err, shared.ErrNoTenant)
}

func TestServiceTenantIsolation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	po, _, err := svc.Create(ctx, shared.Actor{TenantID: 1, UserID: 9}, createInput())
	require.NoError(t, err)

	_, _, _, err = svc.Get(ctx, shared.Actor{TenantID: 2, UserID: 9}, po.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Approve(ctx, shared.Actor{TenantID: 2, UserID: 9}, po.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestServiceApproveOnce(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	po, _, err := svc.Create(ctx, actor, createInput())
	require.NoError(t, err)

	approved, err := svc.Approve(ctx, actor, po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)

	_, err = svc.Approve(ctx, actor, po.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestServiceConcurrentApprove(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	po, _, err := svc.Create(ctx, actor, createInput())
	require.NoError(t, err)

	const workers = 8
	errs := make(chan error, workers)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < workers; i++ {
		go func() {
			start.Wait()
			_, err := svc.Approve(ctx, actor, po.ID)
			errs <- err
		}()
	}
	start.Done()

	var succeeded, lost int
	for i := 0; i < workers; i++ {
		err := <-errs
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrInvalidTransition):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, succeeded, "exactly one approval must win")
	require.Equal(t, workers-1, lost)
}

func TestServiceReceivePostsInventory(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	po, _, err := svc.Create(ctx, actor, createInput())
	require.NoError(t, err)
	_, err = svc.Approve(ctx, actor, po.ID)
	require.NoError(t, err)

	received, items, err := svc.Receive(ctx, actor, po.ID, ReceiveInput{
		Items: []ReceiveItem{{ProductID: 102, ReceivedQuantity: dec("3")}},
		Notes: "short delivery",
	})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, received.Status)
	require.True(t, items[1].Variance().Equal(dec("-1")))

	require.Len(t, repo.applied, 2)
	require.Equal(t, ledger.KindInbound, repo.applied[0].Kind)
	require.True(t, repo.applied[0].QtyDelta().Equal(dec("2")))
	require.True(t, repo.applied[1].QtyDelta().Equal(dec("3")))

	// Receive is terminal.
	_, _, err = svc.Receive(ctx, actor, po.ID, ReceiveInput{})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestServiceCancelRequiresDraft(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	po, _, err := svc.Create(ctx, actor, createInput())
	require.NoError(t, err)
	_, err = svc.Approve(ctx, actor, po.ID)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, actor, po.ID, "changed plans")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestServiceDeleteRules(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	po, _, err := svc.Create(ctx, actor, createInput())
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, actor, po.ID))
	_, _, _, err = svc.Get(ctx, actor, po.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	po, _, err = svc.Create(ctx, actor, createInput())
	require.NoError(t, err)
	_, err = svc.Approve(ctx, actor, po.ID)
	require.NoError(t, err)
	err = svc.Delete(ctx, actor, po.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestServiceUpdateDraftOnly(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	po, _, err := svc.Create(ctx, actor, createInput())
	require.NoError(t, err)

	updated, err := svc.UpdateDraft(ctx, actor, po.ID, UpdateInput{
		TaxRate: dec("5"),
		Notes:   "renegotiated",
	})
	require.NoError(t, err)
	require.True(t, updated.TaxRate.Equal(dec("5")))

	_, err = svc.Approve(ctx, actor, po.ID)
	require.NoError(t, err)
	_, err = svc.UpdateDraft(ctx, actor, po.ID, UpdateInput{TaxRate: dec("5")})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestServiceStats(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	for i := 0; i < 3; i++ {
		_, _, err := svc.Create(ctx, actor, createInput())
		require.NoError(t, err)
	}
	po, _, err := svc.Create(ctx, actor, createInput())
	require.NoError(t, err)
	_, err = svc.Approve(ctx, actor, po.ID)
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, 4, stats.Total)
	require.Equal(t, 3, stats.Draft)
	require.Equal(t, 1, stats.Approved)
}
