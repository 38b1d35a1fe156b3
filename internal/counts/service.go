package counts

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fieldline-dms/fieldline/internal/ledger"
	"github.com/fieldline-dms/fieldline/internal/refnum"
	"github.com/fieldline-dms/fieldline/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, tenantID, id int64) (StockCount, []Item, error)
	List(ctx context.Context, tenantID int64, filter ListFilter) ([]StockCount, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Insert(ctx context.Context, c StockCount) (int64, error)
	InsertItems(ctx context.Context, countID int64, items []Item) error
	Transition(ctx context.Context, c StockCount, from Status) (bool, error)
	SetItemCounted(ctx context.Context, countID int64, item Item) error
	Delete(ctx context.Context, tenantID, id int64) (bool, error)
	ApplyLedger(ctx context.Context, tenantID int64, instructions []ledger.Instruction) error
}

// AuditPort records transition audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ListFilter narrows List results.
type ListFilter struct {
	Status      Status
	WarehouseID int64
	FromDate    time.Time
	ToDate      time.Time
}

// Service orchestrates the stock count lifecycle.
type Service struct {
	repo  RepositoryPort
	refs  refnum.Generator
	audit AuditPort
	clock func() time.Time
}

// NewService constructs the counts service.
func NewService(repo RepositoryPort, refs refnum.Generator, audit AuditPort) *Service {
	return &Service{
		repo:  repo,
		refs:  refs,
		audit: audit,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput describes a new stock count with its system snapshot.
type CreateInput struct {
	WarehouseID int64
	CountDate   time.Time
	CountType   CountType
	Notes       string
	Items       []ItemInput
}

// ItemInput is one product line with its system quantity snapshot.
type ItemInput struct {
	ProductID int64
	SystemQty decimal.Decimal
}

// Create persists a draft count with its item snapshot.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput) (StockCount, []Item, error) {
	if !actor.Valid() {
		return StockCount{}, nil, shared.ErrNoTenant
	}
	if input.WarehouseID == 0 {
		return StockCount{}, nil, fmt.Errorf("%w: stock count requires a warehouse", shared.ErrValidation)
	}
	countType := input.CountType
	if countType == "" {
		countType = TypeCycle
	}
	if !validType(countType) {
		return StockCount{}, nil, fmt.Errorf("%w: unknown count type %q", shared.ErrValidation, countType)
	}
	if len(input.Items) == 0 {
		return StockCount{}, nil, fmt.Errorf("%w: stock count requires at least one item", shared.ErrValidation)
	}
	items := make([]Item, 0, len(input.Items))
	for i, in := range input.Items {
		if in.ProductID == 0 {
			return StockCount{}, nil, fmt.Errorf("%w: item %d missing product", shared.ErrValidation, i+1)
		}
		if in.SystemQty.IsNegative() {
			return StockCount{}, nil, fmt.Errorf("%w: item %d has negative system quantity", shared.ErrValidation, i+1)
		}
		items = append(items, Item{ProductID: in.ProductID, SystemQty: in.SystemQty})
	}

	number, err := s.refs.Next(ctx, actor.TenantID, refnum.FamilyStockCount)
	if err != nil {
		return StockCount{}, nil, err
	}

	now := s.clock()
	countDate := input.CountDate
	if countDate.IsZero() {
		countDate = now
	}
	c := StockCount{
		TenantID:    actor.TenantID,
		Number:      number,
		WarehouseID: input.WarehouseID,
		CountDate:   countDate,
		CountType:   countType,
		Status:      StatusDraft,
		Notes:       input.Notes,
		CreatedBy:   actor.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Insert(ctx, c)
		if err != nil {
			return err
		}
		c.ID = id
		for i := range items {
			items[i].CountID = id
		}
		return tx.InsertItems(ctx, id, items)
	})
	if err != nil {
		return StockCount{}, nil, err
	}
	s.recordAudit(ctx, actor, "CNT_CREATE", c.ID, map[string]any{"number": c.Number})
	return c, items, nil
}

// Get loads a tenant-scoped count with its items.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (StockCount, []Item, error) {
	if !actor.Valid() {
		return StockCount{}, nil, shared.ErrNoTenant
	}
	return s.repo.Get(ctx, actor.TenantID, id)
}

// List returns tenant-scoped count headers.
func (s *Service) List(ctx context.Context, actor shared.Actor, filter ListFilter) ([]StockCount, error) {
	if !actor.Valid() {
		return nil, shared.ErrNoTenant
	}
	return s.repo.List(ctx, actor.TenantID, filter)
}

// CompleteInput carries the counted quantities.
type CompleteInput struct {
	Items []CountedItem
}

// Complete transitions draft -> completed, records counted quantities, and
// posts compensating adjustments in the same transaction.
func (s *Service) Complete(ctx context.Context, actor shared.Actor, id int64, input CompleteInput) (StockCount, []Item, error) {
	if !actor.Valid() {
		return StockCount{}, nil, shared.ErrNoTenant
	}
	c, items, err := s.repo.Get(ctx, actor.TenantID, id)
	if err != nil {
		return StockCount{}, nil, err
	}
	completed, updated, instructions, err := c.Complete(items, input.Items, actor, s.clock())
	if err != nil {
		return StockCount{}, nil, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.Transition(ctx, completed, StatusDraft)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: stock count %s was transitioned concurrently", shared.ErrConflict, c.Number)
		}
		for _, it := range updated {
			if err := tx.SetItemCounted(ctx, c.ID, it); err != nil {
				return err
			}
		}
		return tx.ApplyLedger(ctx, actor.TenantID, instructions)
	})
	if err != nil {
		return StockCount{}, nil, err
	}
	s.recordAudit(ctx, actor, "CNT_COMPLETE", c.ID, map[string]any{
		"number":      c.Number,
		"adjustments": len(instructions),
	})
	return completed, updated, nil
}

// Cancel terminates a draft count with a reason.
func (s *Service) Cancel(ctx context.Context, actor shared.Actor, id int64, reason string) (StockCount, error) {
	if !actor.Valid() {
		return StockCount{}, shared.ErrNoTenant
	}
	c, _, err := s.repo.Get(ctx, actor.TenantID, id)
	if err != nil {
		return StockCount{}, err
	}
	cancelled, err := c.Cancel(reason, s.clock())
	if err != nil {
		return StockCount{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.Transition(ctx, cancelled, StatusDraft)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: stock count %s was transitioned concurrently", shared.ErrConflict, c.Number)
		}
		return nil
	})
	if err != nil {
		return StockCount{}, err
	}
	s.recordAudit(ctx, actor, "CNT_CANCEL", c.ID, map[string]any{"number": c.Number, "reason": reason})
	return cancelled, nil
}

// Delete removes a draft count and its items.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, id int64) error {
	if !actor.Valid() {
		return shared.ErrNoTenant
	}
	c, _, err := s.repo.Get(ctx, actor.TenantID, id)
	if err != nil {
		return err
	}
	if c.Status != StatusDraft {
		return fmt.Errorf("%w: stock count %s is %s and cannot be deleted", shared.ErrInvalidTransition, c.Number, c.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.Delete(ctx, actor.TenantID, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: stock count %s left draft before deletion", shared.ErrConflict, c.Number)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "CNT_DELETE", id, map[string]any{"number": c.Number})
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: actor.TenantID,
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "stock_count",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
