// Package cash implements the cash trail of the van-sales flow: collections
// recorded by field agents, bank deposits that bundle them, and end-of-day
// reconciliations of expected versus actual cash.
package cash

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fieldline-dms/fieldline/internal/ledger"
	"github.com/fieldline-dms/fieldline/internal/money"
	"github.com/fieldline-dms/fieldline/internal/shared"
)

// CollectionStatus enumerates the collection lifecycle.
type CollectionStatus string

const (
	CollectionPending   CollectionStatus = "pending"
	CollectionDeposited CollectionStatus = "deposited"
)

// Collection is cash received by an agent from a customer.
type Collection struct {
	ID          int64
	TenantID    int64
	Number      string
	AgentID     int64
	CustomerID  int64
	Amount      decimal.Decimal
	CollectedAt time.Time
	Status      CollectionStatus
	DepositID   int64
	Notes       string
	CreatedBy   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DepositStatus enumerates the deposit lifecycle.
type DepositStatus string

const (
	DepositPending   DepositStatus = "pending"
	DepositConfirmed DepositStatus = "confirmed"
)

// Deposit bundles pending collections into one bank deposit. Its amount is
// always the sum of the linked collections, never entered by hand.
type Deposit struct {
	ID          int64
	TenantID    int64
	Number      string
	AgentID     int64
	Amount      decimal.Decimal
	BankRef     string
	DepositedAt time.Time
	Status      DepositStatus
	ConfirmedBy int64
	ConfirmedAt time.Time
	CreatedBy   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Confirm transitions a pending deposit to confirmed and emits the cash
// ledger entry for the deposited amount.
func (d Deposit) Confirm(actor shared.Actor, now time.Time) (Deposit, []ledger.Instruction, error) {
	if d.Status == DepositConfirmed {
		return d, nil, fmt.Errorf("%w: deposit %s already confirmed", shared.ErrInvalidTransition, d.Number)
	}
	if d.Status != DepositPending {
		return d, nil, fmt.Errorf("%w: cannot confirm deposit %s while %s", shared.ErrInvalidTransition, d.Number, d.Status)
	}
	d.Status = DepositConfirmed
	d.ConfirmedBy = actor.UserID
	d.ConfirmedAt = now
	d.UpdatedAt = now
	return d, []ledger.Instruction{{
		Kind:      ledger.KindCash,
		Amount:    d.Amount,
		RefFamily: "DEP",
		RefNumber: d.Number,
		Reason:    "bank deposit confirmed",
	}}, nil
}

// ReconciliationStatus enumerates the reconciliation lifecycle.
type ReconciliationStatus string

const (
	ReconciliationPending  ReconciliationStatus = "pending"
	ReconciliationApproved ReconciliationStatus = "approved"
)

// Reconciliation compares an agent's expected cash with what was handed in.
// Variance is computed once, at creation, and never recomputed afterwards.
type Reconciliation struct {
	ID           int64
	TenantID     int64
	Number       string
	AgentID      int64
	Date         time.Time
	ExpectedCash decimal.Decimal
	ActualCash   decimal.Decimal
	Variance     decimal.Decimal
	Notes        string
	Status       ReconciliationStatus
	ApprovedBy   int64
	ApprovedAt   time.Time
	CreatedBy    int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewReconciliation seals the variance as actual − expected.
func NewReconciliation(tenantID int64, number string, agentID int64, date time.Time, expected, actual decimal.Decimal, notes string, actor shared.Actor, now time.Time) (Reconciliation, error) {
	if expected.IsNegative() || actual.IsNegative() {
		return Reconciliation{}, fmt.Errorf("%w: cash amounts cannot be negative", shared.ErrValidation)
	}
	return Reconciliation{
		TenantID:     tenantID,
		Number:       number,
		AgentID:      agentID,
		Date:         date,
		ExpectedCash: expected,
		ActualCash:   actual,
		Variance:     money.Variance(actual, expected),
		Notes:        notes,
		Status:       ReconciliationPending,
		CreatedBy:    actor.UserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Approve transitions pending -> approved. The stored variance is untouched.
func (rec Reconciliation) Approve(actor shared.Actor, now time.Time) (Reconciliation, error) {
	if rec.Status == ReconciliationApproved {
		return rec, fmt.Errorf("%w: reconciliation %s already approved", shared.ErrInvalidTransition, rec.Number)
	}
	if rec.Status != ReconciliationPending {
		return rec, fmt.Errorf("%w: cannot approve reconciliation %s while %s", shared.ErrInvalidTransition, rec.Number, rec.Status)
	}
	rec.Status = ReconciliationApproved
	rec.ApprovedBy = actor.UserID
	rec.ApprovedAt = now
	rec.UpdatedAt = now
	return rec, nil
}
