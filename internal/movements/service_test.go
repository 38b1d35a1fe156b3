package movements

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
	mu        sync.Mutex
	nextID    int64
	movements map[int64]Movement
	applied   []ledger.Instruction
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{movements: make(map[int64]Movement)}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, (*memoryTx)(m))
}

func (m *memoryRepo) Get(ctx context.Context, tenantID, id int64) (Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mv, ok := m.movements[id]
	if !ok || mv.TenantID != tenantID {
		return Movement{}, fmt.Errorf("%w: stock movement %d", shared.ErrNotFound, id)
	}
	return mv, nil
}

func (m *memoryRepo) List(ctx context.Context, tenantID int64, filter ListFilter) ([]Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Movement
	for _, mv := range m.movements {
		if mv.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && mv.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && mv.Kind != filter.Kind {
			continue
		}
		out = append(out, mv)
	}
	return out, nil
}

func (m *memoryRepo) Stats(ctx context.Context, tenantID int64) ([]StatsRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buckets := make(map[Kind]map[Status]int)
	for _, mv := range m.movements {
		if mv.TenantID != tenantID {
			continue
		}
		if buckets[mv.Kind] == nil {
			buckets[mv.Kind] = make(map[Status]int)
		}
		buckets[mv.Kind][mv.Status]++
	}
	var out []StatsRow
	for kind, statuses := range buckets {
		for status, n := range statuses {
			out = append(out, StatsRow{Kind: kind, Status: status, Count: n})
		}
	}
	return out, nil
}

type memoryTx memoryRepo

func (m *memoryTx) Insert(ctx context.Context, mv Movement) (int64, error) {
	m.nextID++
	mv.ID = m.nextID
	m.movements[mv.ID] = mv
	return mv.ID, nil
}

func (m *memoryTx) UpdatePending(ctx context.Context, mv Movement) (bool, error) {
	current, ok := m.movements[mv.ID]
	if !ok || current.TenantID != mv.TenantID || current.Status != StatusPending {
		return false, nil
	}
	m.movements[mv.ID] = mv
	return true, nil
}

func (m *memoryTx) Transition(ctx context.Context, mv Movement, from Status) (bool, error) {
	current, ok := m.movements[mv.ID]
	if !ok || current.TenantID != mv.TenantID || current.Status != from {
		return false, nil
	}
	m.movements[mv.ID] = mv
	return true, nil
}

func (m *memoryTx) Delete(ctx context.Context, tenantID, id int64) (bool, error) {
	mv, ok := m.movements[id]
	if !ok || mv.TenantID != tenantID || mv.Status != StatusPending {
		return false, nil
	}
	delete(m.movements, id)
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

func transferInput() CreateInput {
	return CreateInput{
		Kind:            KindTransfer,
		ProductID:       101,
		FromWarehouseID: 3,
		ToWarehouseID:   4,
		Quantity:        dec("10"),
		Reason:          "restock van",
	}
}

func TestServiceCreateTransfer(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	m, err := svc.Create(ctx, actor, transferInput())
	require.NoError(t, err)
	require.Equal(t, "SM-000001", m.Number)
	require.Equal(t, StatusPending, m.Status)
}

func TestServiceCreateRejectsSameWarehouseBeforeWrite(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	input := transferInput()
	input.ToWarehouseID = input.FromWarehouseID
	_, err := svc.Create(ctx, actor, input)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.movements, "nothing may be written")

	// The invalid attempt must not have burned a reference number.
	m, err := svc.Create(ctx, actor, transferInput())
	require.NoError(t, err)
	require.Equal(t, "SM-000001", m.Number)
}

func TestServiceCompleteStoresVarianceAndPosts(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	m, err := svc.Create(ctx, actor, transferInput())
	require.NoError(t, err)
	_, err = svc.Approve(ctx, actor, m.ID)
	require.NoError(t, err)

	eight := dec("8")
	completed, err := svc.Complete(ctx, actor, m.ID, CompleteInput{ReceivedQty: &eight})
	require.NoError(t, err)
	require.True(t, completed.Variance.Decimal.Equal(dec("-2")))
	require.Len(t, repo.applied, 2)

	_, err = svc.Complete(ctx, actor, m.ID, CompleteInput{})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestServiceCompleteRequiresApproval(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	m, err := svc.Create(ctx, actor, transferInput())
	require.NoError(t, err)

	_, err = svc.Complete(ctx, actor, m.ID, CompleteInput{})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Contains(t, err.Error(), "not yet approved")
}

func TestServiceConcurrentComplete(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	m, err := svc.Create(ctx, actor, transferInput())
	require.NoError(t, err)
	_, err = svc.Approve(ctx, actor, m.ID)
	require.NoError(t, err)

	const workers = 8
	errs := make(chan error, workers)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < workers; i++ {
		go func() {
			start.Wait()
			_, err := svc.Complete(ctx, actor, m.ID, CompleteInput{})
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
	require.Equal(t, 1, succeeded, "the deltas must post exactly once")
	require.Len(t, repo.applied, 2)
}

func TestServiceTenantIsolation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	m, err := svc.Create(ctx, shared.Actor{TenantID: 1, UserID: 9}, transferInput())
	require.NoError(t, err)

	_, err = svc.Get(ctx, shared.Actor{TenantID: 2, UserID: 9}, m.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.Approve(ctx, shared.Actor{TenantID: 2, UserID: 9}, m.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestServiceEditAndDeleteOnlyPending(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	m, err := svc.Create(ctx, actor, transferInput())
	require.NoError(t, err)

	updated, err := svc.UpdatePending(ctx, actor, m.ID, UpdateInput{Quantity: dec("12")})
	require.NoError(t, err)
	require.True(t, updated.Quantity.Equal(dec("12")))

	_, err = svc.Approve(ctx, actor, m.ID)
	require.NoError(t, err)

	_, err = svc.UpdatePending(ctx, actor, m.ID, UpdateInput{Quantity: dec("15")})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	err = svc.Delete(ctx, actor, m.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestServiceStatsGroupsByKind(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	actor := shared.Actor{TenantID: 1, UserID: 9}

	_, err := svc.Create(ctx, actor, transferInput())
	require.NoError(t, err)
	_, err = svc.Create(ctx, actor, CreateInput{
		Kind: KindDamage, ProductID: 101, FromWarehouseID: 3, Quantity: dec("1"), Reason: "dropped crate",
	})
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, actor)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	total := 0
	for _, row := range stats {
		total += row.Count
	}
	require.Equal(t, 2, total)
}
