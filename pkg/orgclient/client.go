// Package orgclient describes the remote organization service client the rest
// of orgbridge dispatches against, plus a minimal JSON-over-HTTP implementation.
package orgclient

import (
	"context"

	"github.com/google/uuid"
)

// Client is a connected handle to one organization.
type Client interface {
	// IsReady reports whether the handshake succeeded and the handle is usable.
	IsReady() bool
	// LastError is the error recorded while the handle was being established.
	LastError() error
	// ConnectedOrgID is the organization id reported by the remote side.
	ConnectedOrgID() uuid.UUID

	Execute(ctx context.Context, req OrganizationRequest) (OrganizationResponse, error)
	Retrieve(ctx context.Context, entityName string, id uuid.UUID, cols ColumnSet) (Entity, error)
	RetrieveMultiple(ctx context.Context, q Query) (EntityCollection, error)
	Create(ctx context.Context, e Entity) (uuid.UUID, error)
	CreateAndReturn(ctx context.Context, e Entity) (Entity, error)
	Update(ctx context.Context, e Entity) error
	Delete(ctx context.Context, entityName string, id uuid.UUID) error
	Associate(ctx context.Context, entityName string, id uuid.UUID, rel Relationship, related []EntityReference) error
	Disassociate(ctx context.Context, entityName string, id uuid.UUID, rel Relationship, related []EntityReference) error

	Close() error
}

type DialOptions struct {
	// EnableAffinityCookie keeps the load balancer session cookie between calls.
	EnableAffinityCookie bool
}

// Dialer builds a client from a connection string. A returned client may still
// carry a LastError and report not ready.
type Dialer func(ctx context.Context, connectionString string, opts DialOptions) (Client, error)
