package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldline-dms/fieldline/internal/shared"
)

type stubRepo struct {
	gotTenantID int64
	gotFilter   ListFilter
	entries     []Entry
}

func (s *stubRepo) List(ctx context.Context, tenantID int64, filter ListFilter) ([]Entry, error) {
	s.gotTenantID = tenantID
	s.gotFilter = filter
	return s.entries, nil
}

func TestListScopesToActorTenant(t *testing.T) {
	repo := &stubRepo{entries: []Entry{{ID: 1, TenantID: 7, Action: "PO_APPROVE", Entity: "purchase_order", EntityID: "3"}}}
	svc := NewService(repo)

	filter := ListFilter{Entity: "purchase_order", From: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	entries, err := svc.List(context.Background(), shared.Actor{TenantID: 7, UserID: 1}, filter)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(7), repo.gotTenantID)
	require.Equal(t, filter, repo.gotFilter)
}

func TestListRequiresTenant(t *testing.T) {
	svc := NewService(&stubRepo{})

	_, err := svc.List(context.Background(), shared.Actor{}, ListFilter{})
	require.ErrorIs(t, err, shared.ErrNoTenant)
}
