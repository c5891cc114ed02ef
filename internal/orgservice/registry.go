package orgservice

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"orgbridge/pkg/orgclient"
	"orgbridge/pkg/resolve"
	"orgbridge/pkg/tenants"
)

// Registry selects the Service for the current unit of work.
type Registry struct {
	resolvers resolve.Chain
	fallback  uuid.UUID
	byID      map[uuid.UUID]*Service
	ordered   []*Service
}

// NewRegistry indexes services by organization id. The first service wins on
// duplicate ids. fallback may be uuid.Nil for "no default organization".
func NewRegistry(resolvers resolve.Chain, fallback uuid.UUID, services ...*Service) *Registry {
	r := &Registry{resolvers: resolvers, fallback: fallback, byID: map[uuid.UUID]*Service{}}
	for _, s := range services {
		if s == nil {
			continue
		}
		if _, dup := r.byID[s.OrganizationID()]; dup {
			continue
		}
		r.byID[s.OrganizationID()] = s
		r.ordered = append(r.ordered, s)
	}
	sort.SliceStable(r.ordered, func(i, j int) bool { return r.ordered[i].OrganizationName() < r.ordered[j].OrganizationName() })
	return r
}

// ServicesFromProvider builds one unconnected Service per configured organization.
func ServicesFromProvider(ctx context.Context, prov tenants.Provider, dial orgclient.Dialer, log *zap.SugaredLogger) ([]*Service, error) {
	orgs, err := prov.ListOrganizations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Service, 0, len(orgs))
	for _, o := range orgs {
		out = append(out, New(o, dial, log))
	}
	return out, nil
}

// For returns the service matching the first resolver that yields an id, or
// the fallback service when nothing matches.
func (r *Registry) For(ctx context.Context) (*Service, error) {
	if id, ok := r.resolvers.First(ctx); ok {
		if s, ok := r.byID[id]; ok {
			return s, nil
		}
	}
	if s, ok := r.byID[r.fallback]; ok && r.fallback != uuid.Nil {
		return s, nil
	}
	return nil, ErrUnknownOrganization
}

func (r *Registry) Get(id uuid.UUID) (*Service, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// List returns the services ordered by organization name.
func (r *Registry) List() []*Service {
	out := make([]*Service, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// ConnectAll connects every service in turn. Intended for startup only.
func (r *Registry) ConnectAll(ctx context.Context) {
	for _, s := range r.ordered {
		s.Connect(ctx)
	}
}

func (r *Registry) Close() error {
	var errs []error
	for _, s := range r.ordered {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
