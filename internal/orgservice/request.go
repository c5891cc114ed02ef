package orgservice

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"orgbridge/pkg/orgclient"
)

// Handle is what a typed request sees of the service it runs against. The
// request borrows it for the duration of one Execute call.
type Handle interface {
	OrganizationID() uuid.UUID
	OrganizationName() string
	IsReady() bool

	Execute(ctx context.Context, req orgclient.OrganizationRequest) (orgclient.OrganizationResponse, error)
	Retrieve(ctx context.Context, entityName string, id uuid.UUID, cols orgclient.ColumnSet) (orgclient.Entity, error)
	RetrieveMultiple(ctx context.Context, q orgclient.Query) (orgclient.EntityCollection, error)
	Create(ctx context.Context, e orgclient.Entity) (uuid.UUID, error)
	CreateAndReturn(ctx context.Context, e orgclient.Entity) (orgclient.Entity, error)
	Update(ctx context.Context, e orgclient.Entity) error
	Delete(ctx context.Context, entityName string, id uuid.UUID) error
	Associate(ctx context.Context, entityName string, id uuid.UUID, rel orgclient.Relationship, related []orgclient.EntityReference) error
	Disassociate(ctx context.Context, entityName string, id uuid.UUID, rel orgclient.Relationship, related []orgclient.EntityReference) error
}

// Request is a self-executing operation without a response.
type Request interface {
	Execute(ctx context.Context, svc Handle, log *zap.SugaredLogger) error
}

// RequestFor is a self-executing operation producing a T.
type RequestFor[T any] interface {
	Execute(ctx context.Context, svc Handle, log *zap.SugaredLogger) (T, error)
}

var _ Handle = (*Service)(nil)
