package cash

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
	GetCollection(ctx context.Context, tenantID, id int64) (Collection, error)
	ListCollections(ctx context.Context, tenantID int64, filter CollectionFilter) ([]Collection, error)
	GetDeposit(ctx context.Context, tenantID, id int64) (Deposit, error)
	ListDeposits(ctx context.Context, tenantID int64) ([]Deposit, error)
	GetReconciliation(ctx context.Context, tenantID, id int64) (Reconciliation, error)
	ListReconciliations(ctx context.Context, tenantID int64) ([]Reconciliation, error)
	SumPendingCollections(ctx context.Context, tenantID, agentID int64) (decimal.Decimal, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertCollection(ctx context.Context, c Collection) (int64, error)
	InsertDeposit(ctx context.Context, d Deposit) (int64, error)
	InsertReconciliation(ctx context.Context, rec Reconciliation) (int64, error)
	// LinkCollection conditionally moves a pending collection into a deposit.
	LinkCollection(ctx context.Context, tenantID, collectionID, depositID int64, now time.Time) (bool, error)
	TransitionDeposit(ctx context.Context, d Deposit, from DepositStatus) (bool, error)
	TransitionReconciliation(ctx context.Context, rec Reconciliation, from ReconciliationStatus) (bool, error)
	ApplyLedger(ctx context.Context, tenantID int64, instructions []ledger.Instruction) error
}

// AuditPort records transition audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CollectionFilter narrows collection listings.
type CollectionFilter struct {
	Status  CollectionStatus
	AgentID int64
}

// Service orchestrates the cash lifecycle.
type Service struct {
	repo  RepositoryPort
	refs  refnum.Generator
	audit AuditPort
	clock func() time.Time
}

// NewService constructs the cash service.
func NewService(repo RepositoryPort, refs refnum.Generator, audit AuditPort) *Service {
	return &Service{
		repo:  repo,
		refs:  refs,
		audit: audit,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// CollectionInput describes a new cash collection.
type CollectionInput struct {
	AgentID     int64
	CustomerID  int64
	Amount      decimal.Decimal
	CollectedAt time.Time
	Notes       string
}

// CreateCollection records cash received from a customer.
func (s *Service) CreateCollection(ctx context.Context, actor shared.Actor, input CollectionInput) (Collection, error) {
	if !actor.Valid() {
		return Collection{}, shared.ErrNoTenant
	}
	if input.AgentID == 0 || input.CustomerID == 0 {
		return Collection{}, fmt.Errorf("%w: collection requires agent and customer", shared.ErrValidation)
	}
	if !input.Amount.IsPositive() {
		return Collection{}, fmt.Errorf("%w: collection amount must be positive", shared.ErrValidation)
	}

	number, err := s.refs.Next(ctx, actor.TenantID, refnum.FamilyCollection)
	if err != nil {
		return Collection{}, err
	}
	now := s.clock()
	collectedAt := input.CollectedAt
	if collectedAt.IsZero() {
		collectedAt = now
	}
	c := Collection{
		TenantID:    actor.TenantID,
		Number:      number,
		AgentID:     input.AgentID,
		CustomerID:  input.CustomerID,
		Amount:      input.Amount,
		CollectedAt: collectedAt,
		Status:      CollectionPending,
		Notes:       input.Notes,
		CreatedBy:   actor.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertCollection(ctx, c)
		if err != nil {
			return err
		}
		c.ID = id
		return nil
	})
	if err != nil {
		return Collection{}, err
	}
	s.recordAudit(ctx, actor, "CASH_COLLECT", "collection", c.ID, map[string]any{"number": c.Number})
	return c, nil
}

// ListCollections returns tenant-scoped collections.
func (s *Service) ListCollections(ctx context.Context, actor shared.Actor, filter CollectionFilter) ([]Collection, error) {
	if !actor.Valid() {
		return nil, shared.ErrNoTenant
	}
	return s.repo.ListCollections(ctx, actor.TenantID, filter)
}

// DepositInput bundles pending collections into one bank deposit.
type DepositInput struct {
	AgentID       int64
	CollectionIDs []int64
	BankRef       string
	DepositedAt   time.Time
}

// CreateDeposit links the listed pending collections to a new deposit. The
// deposit amount is the sum of the linked collections; a collection that is
// already deposited fails the whole batch.
func (s *Service) CreateDeposit(ctx context.Context, actor shared.Actor, input DepositInput) (Deposit, error) {
	if !actor.Valid() {
		return Deposit{}, shared.ErrNoTenant
	}
	if input.AgentID == 0 {
		return Deposit{}, fmt.Errorf("%w: deposit requires an agent", shared.ErrValidation)
	}
	if len(input.CollectionIDs) == 0 {
		return Deposit{}, fmt.Errorf("%w: deposit requires at least one collection", shared.ErrValidation)
	}

	amount := decimal.Zero
	for _, id := range input.CollectionIDs {
		c, err := s.repo.GetCollection(ctx, actor.TenantID, id)
		if err != nil {
			return Deposit{}, err
		}
		if c.Status != CollectionPending {
			return Deposit{}, fmt.Errorf("%w: collection %s is already deposited", shared.ErrInvalidTransition, c.Number)
		}
		if c.AgentID != input.AgentID {
			return Deposit{}, fmt.Errorf("%w: collection %s belongs to another agent", shared.ErrValidation, c.Number)
		}
		amount = amount.Add(c.Amount)
	}

	number, err := s.refs.Next(ctx, actor.TenantID, refnum.FamilyDeposit)
	if err != nil {
		return Deposit{}, err
	}
	now := s.clock()
	depositedAt := input.DepositedAt
	if depositedAt.IsZero() {
		depositedAt = now
	}
	d := Deposit{
		TenantID:    actor.TenantID,
		Number:      number,
		AgentID:     input.AgentID,
		Amount:      amount,
		BankRef:     input.BankRef,
		DepositedAt: depositedAt,
		Status:      DepositPending,
		CreatedBy:   actor.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertDeposit(ctx, d)
		if err != nil {
			return err
		}
		d.ID = id
		for _, collectionID := range input.CollectionIDs {
			ok, err := tx.LinkCollection(ctx, actor.TenantID, collectionID, id, now)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: collection %d was deposited concurrently", shared.ErrConflict, collectionID)
			}
		}
		return nil
	})
	if err != nil {
		return Deposit{}, err
	}
	s.recordAudit(ctx, actor, "CASH_DEPOSIT", "deposit", d.ID, map[string]any{
		"number":      d.Number,
		"amount":      d.Amount.String(),
		"collections": len(input.CollectionIDs),
	})
	return d, nil
}

// ConfirmDeposit transitions pending -> confirmed and posts the cash entry.
func (s *Service) ConfirmDeposit(ctx context.Context, actor shared.Actor, id int64) (Deposit, error) {
	if !actor.Valid() {
		return Deposit{}, shared.ErrNoTenant
	}
	d, err := s.repo.GetDeposit(ctx, actor.TenantID, id)
	if err != nil {
		return Deposit{}, err
	}
	confirmed, instructions, err := d.Confirm(actor, s.clock())
	if err != nil {
		return Deposit{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.TransitionDeposit(ctx, confirmed, DepositPending)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: deposit %s was transitioned concurrently", shared.ErrConflict, d.Number)
		}
		return tx.ApplyLedger(ctx, actor.TenantID, instructions)
	})
	if err != nil {
		return Deposit{}, err
	}
	s.recordAudit(ctx, actor, "CASH_DEPOSIT_CONFIRM", "deposit", d.ID, map[string]any{"number": d.Number})
	return confirmed, nil
}

// ListDeposits returns tenant-scoped deposits.
func (s *Service) ListDeposits(ctx context.Context, actor shared.Actor) ([]Deposit, error) {
	if !actor.Valid() {
		return nil, shared.ErrNoTenant
	}
	return s.repo.ListDeposits(ctx, actor.TenantID)
}

// ReconciliationInput describes an end-of-day reconciliation. A zero
// ExpectedCash with DeriveExpected set sums the agent's pending collections.
type ReconciliationInput struct {
	AgentID        int64
	Date           time.Time
	ExpectedCash   decimal.Decimal
	DeriveExpected bool
	ActualCash     decimal.Decimal
	Notes          string
}

// CreateReconciliation computes and persists the variance at creation time.
func (s *Service) CreateReconciliation(ctx context.Context, actor shared.Actor, input ReconciliationInput) (Reconciliation, error) {
	if !actor.Valid() {
		return Reconciliation{}, shared.ErrNoTenant
	}
	if input.AgentID == 0 {
		return Reconciliation{}, fmt.Errorf("%w: reconciliation requires an agent", shared.ErrValidation)
	}

	expected := input.ExpectedCash
	if input.DeriveExpected {
		sum, err := s.repo.SumPendingCollections(ctx, actor.TenantID, input.AgentID)
		if err != nil {
			return Reconciliation{}, err
		}
		expected = sum
	}

	number, err := s.refs.Next(ctx, actor.TenantID, refnum.FamilyReconciliation)
	if err != nil {
		return Reconciliation{}, err
	}
	now := s.clock()
	date := input.Date
	if date.IsZero() {
		date = now
	}
	rec, err := NewReconciliation(actor.TenantID, number, input.AgentID, date, expected, input.ActualCash, input.Notes, actor, now)
	if err != nil {
		return Reconciliation{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertReconciliation(ctx, rec)
		if err != nil {
			return err
		}
		rec.ID = id
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}
	s.recordAudit(ctx, actor, "CASH_RECONCILE", "reconciliation", rec.ID, map[string]any{
		"number":   rec.Number,
		"variance": rec.Variance.String(),
	})
	return rec, nil
}

// ApproveReconciliation transitions pending -> approved without touching the
// stored variance.
func (s *Service) ApproveReconciliation(ctx context.Context, actor shared.Actor, id int64) (Reconciliation, error) {
	if !actor.Valid() {
		return Reconciliation{}, shared.ErrNoTenant
	}
	rec, err := s.repo.GetReconciliation(ctx, actor.TenantID, id)
	if err != nil {
		return Reconciliation{}, err
	}
	approved, err := rec.Approve(actor, s.clock())
	if err != nil {
		return Reconciliation{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.TransitionReconciliation(ctx, approved, ReconciliationPending)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: reconciliation %s was transitioned concurrently", shared.ErrConflict, rec.Number)
		}
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}
	s.recordAudit(ctx, actor, "CASH_RECONCILE_APPROVE", "reconciliation", rec.ID, map[string]any{"number": rec.Number})
	return approved, nil
}

// GetReconciliation loads a tenant-scoped reconciliation.
func (s *Service) GetReconciliation(ctx context.Context, actor shared.Actor, id int64) (Reconciliation, error) {
	if !actor.Valid() {
		return Reconciliation{}, shared.ErrNoTenant
	}
	return s.repo.GetReconciliation(ctx, actor.TenantID, id)
}

// ListReconciliations returns tenant-scoped reconciliations.
func (s *Service) ListReconciliations(ctx context.Context, actor shared.Actor) ([]Reconciliation, error) {
	if !actor.Valid() {
		return nil, shared.ErrNoTenant
	}
	return s.repo.ListReconciliations(ctx, actor.TenantID)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: actor.TenantID,
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
