package tenants

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("organization not found")

type Provider interface {
	// List every configured organization.
	ListOrganizations(ctx context.Context) ([]Organization, error)
	OrganizationByID(ctx context.Context, id uuid.UUID) (Organization, error)
	// Resolve from the short name used in routes.
	OrganizationBySlug(ctx context.Context, slug string) (Organization, error)
}
