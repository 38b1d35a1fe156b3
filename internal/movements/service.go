package movements

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
	Get(ctx context.Context, tenantID, id int64) (Movement, error)
	List(ctx context.Context, tenantID int64, filter ListFilter) ([]Movement, error)
	Stats(ctx context.Context, tenantID int64) ([]StatsRow, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Insert(ctx context.Context, m Movement) (int64, error)
	UpdatePending(ctx context.Context, m Movement) (bool, error)
	Transition(ctx context.Context, m Movement, from Status) (bool, error)
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
	Kind        Kind
	WarehouseID int64
	FromDate    time.Time
	ToDate      time.Time
}

// StatsRow is one kind/status bucket of the stats summary.
type StatsRow struct {
	Kind   Kind   `json:"kind"`
	Status Status `json:"status"`
	Count  int    `json:"count"`
}

// Service orchestrates the stock movement lifecycle.
type Service struct {
	repo  RepositoryPort
	refs  refnum.Generator
	audit AuditPort
	clock func() time.Time
}

// NewService constructs the movements service.
func NewService(repo RepositoryPort, refs refnum.Generator, audit AuditPort) *Service {
	return &Service{
		repo:  repo,
		refs:  refs,
		audit: audit,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput describes a new stock movement.
type CreateInput struct {
	Kind            Kind
	ProductID       int64
	FromWarehouseID int64
	ToWarehouseID   int64
	Quantity        decimal.Decimal
	MovementDate    time.Time
	Reason          string
	Notes           string
}

// Create validates and persists a pending movement. Kind rules run before
// any write, so an invalid transfer never reserves a reference number.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput) (Movement, error) {
	if !actor.Valid() {
		return Movement{}, shared.ErrNoTenant
	}
	now := s.clock()
	movementDate := input.MovementDate
	if movementDate.IsZero() {
		movementDate = now
	}
	m := Movement{
		TenantID:        actor.TenantID,
		Kind:            input.Kind,
		ProductID:       input.ProductID,
		FromWarehouseID: input.FromWarehouseID,
		ToWarehouseID:   input.ToWarehouseID,
		Quantity:        input.Quantity,
		MovementDate:    movementDate,
		Reason:          input.Reason,
		Notes:           input.Notes,
		Status:          StatusPending,
		CreatedBy:       actor.UserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.Validate(); err != nil {
		return Movement{}, err
	}

	number, err := s.refs.Next(ctx, actor.TenantID, refnum.FamilyStockMovement)
	if err != nil {
		return Movement{}, err
	}
	m.Number = number

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Insert(ctx, m)
		if err != nil {
			return err
		}
		m.ID = id
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	s.recordAudit(ctx, actor, "SM_CREATE", m.ID, map[string]any{"number": m.Number, "kind": string(m.Kind)})
	return m, nil
}

// Get loads a tenant-scoped movement.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (Movement, error) {
	if !actor.Valid() {
		return Movement{}, shared.ErrNoTenant
	}
	return s.repo.Get(ctx, actor.TenantID, id)
}

// List returns tenant-scoped movements.
func (s *Service) List(ctx context.Context, actor shared.Actor, filter ListFilter) ([]Movement, error) {
	if !actor.Valid() {
		return nil, shared.ErrNoTenant
	}
	return s.repo.List(ctx, actor.TenantID, filter)
}

// UpdateInput carries editable fields for a pending movement.
type UpdateInput struct {
	Quantity     decimal.Decimal
	MovementDate time.Time
	Reason       string
	Notes        string
}

// UpdatePending edits a movement while it is still pending.
func (s *Service) UpdatePending(ctx context.Context, actor shared.Actor, id int64, input UpdateInput) (Movement, error) {
	if !actor.Valid() {
		return Movement{}, shared.ErrNoTenant
	}
	m, err := s.repo.Get(ctx, actor.TenantID, id)
	if err != nil {
		return Movement{}, err
	}
	if m.Status != StatusPending {
		return Movement{}, fmt.Errorf("%w: movement %s is %s and no longer editable", shared.ErrInvalidTransition, m.Number, m.Status)
	}
	if !input.Quantity.IsZero() {
		m.Quantity = input.Quantity
	}
	if !input.MovementDate.IsZero() {
		m.MovementDate = input.MovementDate
	}
	if input.Reason != "" {
		m.Reason = input.Reason
	}
	if input.Notes != "" {
		m.Notes = input.Notes
	}
	m.UpdatedAt = s.clock()
	if err := m.Validate(); err != nil {
		return Movement{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.UpdatePending(ctx, m)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: movement %s left pending during edit", shared.ErrConflict, m.Number)
		}
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	s.recordAudit(ctx, actor, "SM_UPDATE", m.ID, map[string]any{"number": m.Number})
	return m, nil
}

// Approve transitions pending -> approved exactly once.
func (s *Service) Approve(ctx context.Context, actor shared.Actor, id int64) (Movement, error) {
	if !actor.Valid() {
		return Movement{}, shared.ErrNoTenant
	}
	m, err := s.repo.Get(ctx, actor.TenantID, id)
	if err != nil {
		return Movement{}, err
	}
	approved, err := m.Approve(actor, s.clock())
	if err != nil {
		return Movement{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.Transition(ctx, approved, StatusPending)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: movement %s was transitioned concurrently", shared.ErrConflict, m.Number)
		}
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	s.recordAudit(ctx, actor, "SM_APPROVE", m.ID, map[string]any{"number": m.Number})
	return approved, nil
}

// CompleteInput optionally overrides the received quantity.
type CompleteInput struct {
	ReceivedQty *decimal.Decimal
}

// Complete transitions approved -> completed, stores the variance, and posts
// the stock deltas in the same transaction as the status write.
func (s *Service) Complete(ctx context.Context, actor shared.Actor, id int64, input CompleteInput) (Movement, error) {
	if !actor.Valid() {
		return Movement{}, shared.ErrNoTenant
	}
	m, err := s.repo.Get(ctx, actor.TenantID, id)
	if err != nil {
		return Movement{}, err
	}
	completed, instructions, err := m.Complete(input.ReceivedQty, actor, s.clock())
	if err != nil {
		return Movement{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.Transition(ctx, completed, StatusApproved)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: movement %s was transitioned concurrently", shared.ErrConflict, m.Number)
		}
		return tx.ApplyLedger(ctx, actor.TenantID, instructions)
	})
	if err != nil {
		return Movement{}, err
	}
	s.recordAudit(ctx, actor, "SM_COMPLETE", m.ID, map[string]any{
		"number":   m.Number,
		"variance": completed.Variance.Decimal.String(),
	})
	return completed, nil
}

// Cancel terminates a pending or approved movement with a reason.
func (s *Service) Cancel(ctx context.Context, actor shared.Actor, id int64, reason string) (Movement, error) {
	if !actor.Valid() {
		return Movement{}, shared.ErrNoTenant
	}
	m, err := s.repo.Get(ctx, actor.TenantID, id)
	if err != nil {
		return Movement{}, err
	}
	cancelled, err := m.Cancel(reason, s.clock())
	if err != nil {
		return Movement{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.Transition(ctx, cancelled, m.Status)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: movement %s was transitioned concurrently", shared.ErrConflict, m.Number)
		}
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	s.recordAudit(ctx, actor, "SM_CANCEL", m.ID, map[string]any{"number": m.Number, "reason": reason})
	return cancelled, nil
}

// Delete removes a pending movement.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, id int64) error {
	if !actor.Valid() {
		return shared.ErrNoTenant
	}
	m, err := s.repo.Get(ctx, actor.TenantID, id)
	if err != nil {
		return err
	}
	if m.Status != StatusPending {
		return fmt.Errorf("%w: movement %s is %s and cannot be deleted", shared.ErrInvalidTransition, m.Number, m.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.Delete(ctx, actor.TenantID, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: movement %s left pending before deletion", shared.ErrConflict, m.Number)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "SM_DELETE", id, map[string]any{"number": m.Number})
	return nil
}

// Stats returns counts grouped by kind and status.
func (s *Service) Stats(ctx context.Context, actor shared.Actor) ([]StatsRow, error) {
	if !actor.Valid() {
		return nil, shared.ErrNoTenant
	}
	return s.repo.Stats(ctx, actor.TenantID)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: actor.TenantID,
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "stock_movement",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
