package purchasing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fieldline-dms/fieldline/internal/ledger"
	"github.com/fieldline-dms/fieldline/internal/money"
	"github.com/fieldline-dms/fieldline/internal/refnum"
	"github.com/fieldline-dms/fieldline/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, tenantID, id int64) (PurchaseOrder, []Item, error)
	List(ctx context.Context, tenantID int64, filter ListFilter) ([]PurchaseOrder, error)
	Stats(ctx context.Context, tenantID int64) (Stats, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Insert(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertItems(ctx context.Context, poID int64, items []Item) error
	ReplaceItems(ctx context.Context, poID int64, items []Item) error
	UpdateDraft(ctx context.Context, po PurchaseOrder) (bool, error)
	Transition(ctx context.Context, po PurchaseOrder, from Status) (bool, error)
	SetItemReceived(ctx context.Context, poID int64, item Item) error
	Delete(ctx context.Context, tenantID, id int64) (bool, error)
	ApplyLedger(ctx context.Context, tenantID int64, instructions []ledger.Instruction) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// StatsCache caches stats summaries between reads.
type StatsCache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any) error
	Invalidate(ctx context.Context, keys ...string) error
}

// ListFilter narrows List results.
type ListFilter struct {
	Status     Status
	SupplierID int64
	FromDate   time.Time
	ToDate     time.Time
}

// Stats summarises purchase orders by status.
type Stats struct {
	Total     int `json:"total"`
	Draft     int `json:"draft"`
	Approved  int `json:"approved"`
	Received  int `json:"received"`
	Cancelled int `json:"cancelled"`
}

// Service orchestrates the purchase order lifecycle.
type Service struct {
	repo        RepositoryPort
	refs        refnum.Generator
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	cache       StatsCache
	clock       func() time.Time
}

// NewService constructs the purchasing service.
func NewService(repo RepositoryPort, refs refnum.Generator, audit AuditPort, idem *shared.IdempotencyStore, cache StatsCache) *Service {
	return &Service{
		repo:        repo,
		refs:        refs,
		audit:       audit,
		idempotency: idem,
		cache:       cache,
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput describes a new purchase order.
type CreateInput struct {
	SupplierID   int64
	WarehouseID  int64
	OrderDate    time.Time
	ExpectedDate time.Time
	TaxRate      decimal.Decimal
	Discount     decimal.Decimal
	Notes        string
	Items        []ItemInput
}

// ItemInput describes one requested line.
type ItemInput struct {
	ProductID int64
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	Notes     string
}

// UpdateInput carries editable draft fields. Nil slices leave items untouched.
type UpdateInput struct {
	SupplierID   int64
	WarehouseID  int64
	ExpectedDate time.Time
	TaxRate      decimal.Decimal
	Discount     decimal.Decimal
	Notes        string
	Items        []ItemInput
}

// ReceiveInput carries the receive payload.
type ReceiveInput struct {
	Items []ReceiveItem
	Notes string
}

func buildItems(poID int64, inputs []ItemInput) ([]Item, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: purchase order requires at least one item", shared.ErrValidation)
	}
	items := make([]Item, 0, len(inputs))
	for i, in := range inputs {
		if in.ProductID == 0 {
			return nil, fmt.Errorf("%w: item %d missing product", shared.ErrValidation, i+1)
		}
		if !in.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: item %d requires positive quantity", shared.ErrValidation, i+1)
		}
		if _, err := money.LineTotal(in.Quantity, in.UnitPrice); err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
		items = append(items, Item{
			POID:      poID,
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
			Notes:     in.Notes,
		})
	}
	return items, nil
}

// Create persists a draft purchase order with its items. The reference number
// is reserved before the header is stored and never regenerated.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput) (PurchaseOrder, []Item, error) {
	if !actor.Valid() {
		return PurchaseOrder{}, nil, shared.ErrNoTenant
	}
	if input.SupplierID == 0 || input.WarehouseID == 0 {
		return PurchaseOrder{}, nil, fmt.Errorf("%w: supplier and warehouse required", shared.ErrValidation)
	}
	items, err := buildItems(0, input.Items)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}

	number, err := s.refs.Next(ctx, actor.TenantID, refnum.FamilyPurchaseOrder)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}

	now := s.clock()
	orderDate := input.OrderDate
	if orderDate.IsZero() {
		orderDate = now
	}
	po := PurchaseOrder{
		TenantID:     actor.TenantID,
		Number:       number,
		SupplierID:   input.SupplierID,
		WarehouseID:  input.WarehouseID,
		OrderDate:    orderDate,
		ExpectedDate: input.ExpectedDate,
		Status:       StatusDraft,
		TaxRate:      input.TaxRate,
		Discount:     input.Discount,
		Notes:        input.Notes,
		CreatedBy:    actor.UserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Insert(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		for i := range items {
			items[i].POID = id
		}
		return tx.InsertItems(ctx, id, items)
	})
	if err != nil {
		return PurchaseOrder{}, nil, err
	}

	s.recordAudit(ctx, actor, "PO_CREATE", po.ID, map[string]any{"number": po.Number})
	s.invalidateStats(ctx, actor.TenantID)
	return po, items, nil
}

// Get loads a tenant-scoped purchase order with derived totals.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (PurchaseOrder, []Item, money.Totals, error) {
	if !actor.Valid() {
		return PurchaseOrder{}, nil, money.Totals{}, shared.ErrNoTenant
	}
	po, items, err := s.repo.Get(ctx, actor.TenantID, id)
	if err != nil {
		return PurchaseOrder{}, nil, money.Totals{}, err
	}
	totals, err := po.Totals(items)
	if err != nil {
		return PurchaseOrder{}, nil, money.Totals{}, err
	}
	return po, items, totals, nil
}

// List returns tenant-scoped headers.
func (s *Service) List(ctx context.Context, actor shared.Actor, filter ListFilter) ([]PurchaseOrder, error) {
	if !actor.Valid() {
		return nil, shared.ErrNoTenant
	}
	return s.repo.List(ctx, actor.TenantID, filter)
}

// UpdateDraft edits header fields (and optionally replaces items) while the
// order remains a draft.
func (s *Service) UpdateDraft(ctx context.Context, actor shared.Actor, id int64, input UpdateInput) (PurchaseOrder, error) {
	if !actor.Valid() {
		return PurchaseOrder{}, shared.ErrNoTenant
	}
	po, _, err := s.repo.Get(ctx, actor.TenantID, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if po.Status != StatusDraft {
		return PurchaseOrder{}, fmt.Errorf("%w: purchase order %s is %s and no longer editable", shared.ErrInvalidTransition, po.Number, po.Status)
	}

	if input.SupplierID != 0 {
		po.SupplierID = input.SupplierID
	}
	if input.WarehouseID != 0 {
		po.WarehouseID = input.WarehouseID
	}
	if !input.ExpectedDate.IsZero() {
		po.ExpectedDate = input.ExpectedDate
	}
	if input.TaxRate.IsNegative() || input.Discount.IsNegative() {
		return PurchaseOrder{}, fmt.Errorf("%w: negative tax rate or discount", shared.ErrValidation)
	}
	po.TaxRate = input.TaxRate
	po.Discount = input.Discount
	if input.Notes != "" {
		po.Notes = input.Notes
	}
	po.UpdatedAt = s.clock()

	var replacement []Item
	if input.Items != nil {
		replacement, err = buildItems(po.ID, input.Items)
		if err != nil {
			return PurchaseOrder{}, err
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.UpdateDraft(ctx, po)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: purchase order %s left draft during edit", shared.ErrConflict, po.Number)
		}
		if replacement != nil {
			return tx.ReplaceItems(ctx, po.ID, replacement)
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actor, "PO_UPDATE", po.ID, map[string]any{"number": po.Number})
	return po, nil
}

// Approve transitions draft -> approved exactly once.
func (s *Service) Approve(ctx context.Context, actor shared.Actor, id int64) (PurchaseOrder, error) {
	if !actor.Valid() {
		return PurchaseOrder{}, shared.ErrNoTenant
	}
	po, _, err := s.repo.Get(ctx, actor.TenantID, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	approved, err := po.Approve(actor, s.clock())
	if err != nil {
		return PurchaseOrder{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.Transition(ctx, approved, StatusDraft)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: purchase order %s was transitioned concurrently", shared.ErrConflict, po.Number)
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actor, "PO_APPROVE", po.ID, map[string]any{"number": po.Number})
	s.invalidateStats(ctx, actor.TenantID)
	return approved, nil
}

// Receive transitions approved -> received, records actual quantities for
// every item in one transaction, and posts the resulting inventory deltas.
func (s *Service) Receive(ctx context.Context, actor shared.Actor, id int64, input ReceiveInput) (PurchaseOrder, []Item, error) {
	if !actor.Valid() {
		return PurchaseOrder{}, nil, shared.ErrNoTenant
	}
	po, items, err := s.repo.Get(ctx, actor.TenantID, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	received, updatedItems, instructions, err := po.Receive(items, input.Items, input.Notes, actor, s.clock())
	if err != nil {
		return PurchaseOrder{}, nil, err
	}

	key := fmt.Sprintf("PO:%s:receive", po.Number)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "purchasing"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return PurchaseOrder{}, nil, fmt.Errorf("%w: purchase order %s already received", shared.ErrInvalidTransition, po.Number)
			}
			return PurchaseOrder{}, nil, err
		}
		insertedKey = true
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.Transition(ctx, received, StatusApproved)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: purchase order %s was transitioned concurrently", shared.ErrConflict, po.Number)
		}
		for _, it := range updatedItems {
			if err := tx.SetItemReceived(ctx, po.ID, it); err != nil {
				return err
			}
		}
		return tx.ApplyLedger(ctx, actor.TenantID, instructions)
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return PurchaseOrder{}, nil, err
	}

	s.recordAudit(ctx, actor, "PO_RECEIVE", po.ID, map[string]any{
		"number": po.Number,
		"lines":  len(updatedItems),
	})
	s.invalidateStats(ctx, actor.TenantID)
	return received, updatedItems, nil
}

// Cancel terminates a draft order with a reason.
func (s *Service) Cancel(ctx context.Context, actor shared.Actor, id int64, reason string) (PurchaseOrder, error) {
	if !actor.Valid() {
		return PurchaseOrder{}, shared.ErrNoTenant
	}
	po, _, err := s.repo.Get(ctx, actor.TenantID, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	cancelled, err := po.Cancel(reason, s.clock())
	if err != nil {
		return PurchaseOrder{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.Transition(ctx, cancelled, StatusDraft)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: purchase order %s was transitioned concurrently", shared.ErrConflict, po.Number)
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actor, "PO_CANCEL", po.ID, map[string]any{"number": po.Number, "reason": reason})
	s.invalidateStats(ctx, actor.TenantID)
	return cancelled, nil
}

// Delete removes a draft order and its items. Orders that left draft, or with
// any recorded received quantity, cannot be deleted.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, id int64) error {
	if !actor.Valid() {
		return shared.ErrNoTenant
	}
	po, items, err := s.repo.Get(ctx, actor.TenantID, id)
	if err != nil {
		return err
	}
	if po.Status != StatusDraft {
		return fmt.Errorf("%w: purchase order %s is %s and cannot be deleted", shared.ErrInvalidTransition, po.Number, po.Status)
	}
	for _, it := range items {
		if it.ReceivedQuantity.Valid {
			return fmt.Errorf("%w: purchase order %s has recorded receipts", shared.ErrDependency, po.Number)
		}
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.Delete(ctx, actor.TenantID, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: purchase order %s left draft before deletion", shared.ErrConflict, po.Number)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "PO_DELETE", id, map[string]any{"number": po.Number})
	s.invalidateStats(ctx, actor.TenantID)
	return nil
}

// Stats returns status counts, cached under a short TTL.
func (s *Service) Stats(ctx context.Context, actor shared.Actor) (Stats, error) {
	if !actor.Valid() {
		return Stats{}, shared.ErrNoTenant
	}
	key := StatsKey(actor.TenantID)
	if s.cache != nil {
		var cached Stats
		if hit, err := s.cache.GetJSON(ctx, key, &cached); err == nil && hit {
			return cached, nil
		}
	}
	stats, err := s.repo.Stats(ctx, actor.TenantID)
	if err != nil {
		return Stats{}, err
	}
	if s.cache != nil {
		_ = s.cache.SetJSON(ctx, key, stats)
	}
	return stats, nil
}

// StatsKey is the cache key for a tenant's stats summary. The background
// warmup job writes the same key the service reads.
func StatsKey(tenantID int64) string {
	return fmt.Sprintf("purchasing:stats:%d", tenantID)
}

func (s *Service) invalidateStats(ctx context.Context, tenantID int64) {
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, StatsKey(tenantID))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: actor.TenantID,
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
