package audit

import (
	"context"

	"github.com/fieldline-dms/fieldline/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	List(ctx context.Context, tenantID int64, filter ListFilter) ([]Entry, error)
}

// Service reads the audit trail on behalf of a tenant.
type Service struct {
	repo RepositoryPort
}

// NewService constructs the audit service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// List returns audit entries for the acting tenant, newest first.
func (s *Service) List(ctx context.Context, actor shared.Actor, filter ListFilter) ([]Entry, error) {
	if !actor.Valid() {
		return nil, shared.ErrNoTenant
	}
	return s.repo.List(ctx, actor.TenantID, filter)
}
