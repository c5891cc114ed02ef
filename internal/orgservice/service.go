// Package orgservice guards the lazily connected client of one organization
// and dispatches raw and typed operations against it.
package orgservice

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"orgbridge/pkg/logger"
	"orgbridge/pkg/orgclient"
	"orgbridge/pkg/tenants"
)

// State is the outcome of the connection attempt.
type State int32

const (
	StateUnconnected State = iota
	StateConnected
	StateFailedSilently
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnected:
		return "connected"
	case StateFailedSilently:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type handle struct{ client orgclient.Client }

// Service is the per-organization connection guard and dispatcher.
//
// Connect is meant to run once during startup before any dispatch; the client
// is published atomically and never replaced afterwards.
type Service struct {
	org  tenants.Organization
	dial orgclient.Dialer
	log  *zap.SugaredLogger

	handle    atomic.Pointer[handle]
	state     atomic.Int32
	attempted atomic.Bool
}

// New builds an unconnected service. It never fails; call Connect to dial.
func New(org tenants.Organization, dial orgclient.Dialer, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{org: org.Normalize(), dial: dial, log: log}
	organizationReady.WithLabelValues(s.org.ID.String()).Set(0)
	return s
}

func (s *Service) OrganizationID() uuid.UUID { return s.org.ID }

func (s *Service) OrganizationName() string { return s.org.Name }

// Slug is the short organization name from configuration.
func (s *Service) Slug() string { return s.org.Slug }

func (s *Service) State() State { return State(s.state.Load()) }

// IsReady reports whether a client has been published and reports ready.
func (s *Service) IsReady() bool {
	h := s.handle.Load()
	return h != nil && h.client != nil && h.client.IsReady()
}

// Connect performs the handshake. Failures are logged and leave the service
// permanently not ready; nothing is returned to the caller.
func (s *Service) Connect(ctx context.Context) {
	if !s.attempted.CompareAndSwap(false, true) {
		s.log.Warnw("connect already attempted", "organization_id", s.org.ID, "state", s.State())
		return
	}
	client, err := s.connect(ctx)
	if err != nil {
		fields := []any{"organization_id", s.org.ID, "organization_name", s.org.Name, "err", err}
		var mismatch *ConfigurationMismatchError
		if errors.As(err, &mismatch) {
			fields = append(fields, "connected_org_id", mismatch.ConnectedOrgID)
		}
		s.log.Errorw("an error occurred connecting to the organization service", fields...)
		s.state.Store(int32(StateFailedSilently))
		return
	}
	s.handle.Store(&handle{client: client})
	s.state.Store(int32(StateConnected))
	organizationReady.WithLabelValues(s.org.ID.String()).Set(1)
	s.log.Infow("organization connected", "organization_id", s.org.ID, "organization_name", s.org.Name)
}

func (s *Service) connect(ctx context.Context) (orgclient.Client, error) {
	if s.dial == nil {
		return nil, errors.New("no dialer configured")
	}
	client, err := s.dial(ctx, s.org.ConnectionString, orgclient.DialOptions{EnableAffinityCookie: false})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if client == nil {
		return nil, ErrNotReady
	}
	fail := func(err error) (orgclient.Client, error) {
		_ = client.Close()
		return nil, err
	}
	if err := client.LastError(); err != nil {
		return fail(err)
	}
	if !client.IsReady() {
		return fail(ErrNotReady)
	}
	if got := client.ConnectedOrgID(); got != s.org.ID {
		return fail(&ConfigurationMismatchError{OrganizationID: s.org.ID, ConnectedOrgID: got})
	}
	return client, nil
}

// Close releases the client if one was published. Safe without Connect.
func (s *Service) Close() error {
	h := s.handle.Swap(nil)
	if h == nil {
		return nil
	}
	organizationReady.WithLabelValues(s.org.ID.String()).Set(0)
	return h.client.Close()
}

// client is the single guarded accessor every raw operation goes through.
func (s *Service) client() (orgclient.Client, error) {
	h := s.handle.Load()
	if h == nil || h.client == nil || !h.client.IsReady() {
		return nil, ErrNotReady
	}
	return h.client, nil
}

// Execute sends a raw organization request through the guarded client.
func (s *Service) Execute(ctx context.Context, req orgclient.OrganizationRequest) (resp orgclient.OrganizationResponse, err error) {
	defer func(start time.Time) { s.observe("execute", start, err) }(time.Now())
	c, err := s.client()
	if err != nil {
		return orgclient.OrganizationResponse{}, err
	}
	return c.Execute(ctx, req)
}

func (s *Service) Retrieve(ctx context.Context, entityName string, id uuid.UUID, cols orgclient.ColumnSet) (e orgclient.Entity, err error) {
	defer func(start time.Time) { s.observe("retrieve", start, err) }(time.Now())
	c, err := s.client()
	if err != nil {
		return orgclient.Entity{}, err
	}
	return c.Retrieve(ctx, entityName, id, cols)
}

func (s *Service) RetrieveMultiple(ctx context.Context, q orgclient.Query) (coll orgclient.EntityCollection, err error) {
	defer func(start time.Time) { s.observe("retrieve_multiple", start, err) }(time.Now())
	c, err := s.client()
	if err != nil {
		return orgclient.EntityCollection{}, err
	}
	return c.RetrieveMultiple(ctx, q)
}

func (s *Service) Create(ctx context.Context, e orgclient.Entity) (id uuid.UUID, err error) {
	defer func(start time.Time) { s.observe("create", start, err) }(time.Now())
	c, err := s.client()
	if err != nil {
		return uuid.Nil, err
	}
	return c.Create(ctx, e)
}

func (s *Service) CreateAndReturn(ctx context.Context, e orgclient.Entity) (out orgclient.Entity, err error) {
	defer func(start time.Time) { s.observe("create_and_return", start, err) }(time.Now())
	c, err := s.client()
	if err != nil {
		return orgclient.Entity{}, err
	}
	return c.CreateAndReturn(ctx, e)
}

func (s *Service) Update(ctx context.Context, e orgclient.Entity) (err error) {
	defer func(start time.Time) { s.observe("update", start, err) }(time.Now())
	c, err := s.client()
	if err != nil {
		return err
	}
	return c.Update(ctx, e)
}

func (s *Service) Delete(ctx context.Context, entityName string, id uuid.UUID) (err error) {
	defer func(start time.Time) { s.observe("delete", start, err) }(time.Now())
	c, err := s.client()
	if err != nil {
		return err
	}
	return c.Delete(ctx, entityName, id)
}

func (s *Service) Associate(ctx context.Context, entityName string, id uuid.UUID, rel orgclient.Relationship, related []orgclient.EntityReference) (err error) {
	defer func(start time.Time) { s.observe("associate", start, err) }(time.Now())
	c, err := s.client()
	if err != nil {
		return err
	}
	return c.Associate(ctx, entityName, id, rel, related)
}

func (s *Service) Disassociate(ctx context.Context, entityName string, id uuid.UUID, rel orgclient.Relationship, related []orgclient.EntityReference) (err error) {
	defer func(start time.Time) { s.observe("disassociate", start, err) }(time.Now())
	c, err := s.client()
	if err != nil {
		return err
	}
	return c.Disassociate(ctx, entityName, id, rel, related)
}
