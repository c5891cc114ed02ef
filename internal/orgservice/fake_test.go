package orgservice

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"orgbridge/pkg/orgclient"
)

// fakeClient is an in-memory orgclient.Client. Calls honour ctx and, when
// block is set, wait for ctx to end.
type fakeClient struct {
	mu      sync.Mutex
	ready   bool
	lastErr error
	orgID   uuid.UUID
	block   bool
	closed  bool
	calls   []string
	records map[uuid.UUID]orgclient.Entity
}

func newFakeClient(orgID uuid.UUID) *fakeClient {
	return &fakeClient{ready: true, orgID: orgID, records: map[uuid.UUID]orgclient.Entity{}}
}

func (f *fakeClient) record(ctx context.Context, op string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	block := f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
	}
	return ctx.Err()
}

func (f *fakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeClient) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready && !f.closed
}

func (f *fakeClient) LastError() error          { return f.lastErr }
func (f *fakeClient) ConnectedOrgID() uuid.UUID { return f.orgID }

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeClient) Execute(ctx context.Context, req orgclient.OrganizationRequest) (orgclient.OrganizationResponse, error) {
	if err := f.record(ctx, "execute"); err != nil {
		return orgclient.OrganizationResponse{}, err
	}
	if req.Name == "WhoAmI" {
		return orgclient.OrganizationResponse{Name: req.Name, Results: map[string]any{"OrganizationId": f.orgID.String()}}, nil
	}
	return orgclient.OrganizationResponse{Name: req.Name, Results: req.Parameters}, nil
}

func (f *fakeClient) Retrieve(ctx context.Context, entityName string, id uuid.UUID, _ orgclient.ColumnSet) (orgclient.Entity, error) {
	if err := f.record(ctx, "retrieve"); err != nil {
		return orgclient.Entity{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[id], nil
}

func (f *fakeClient) RetrieveMultiple(ctx context.Context, q orgclient.Query) (orgclient.EntityCollection, error) {
	if err := f.record(ctx, "retrieve_multiple"); err != nil {
		return orgclient.EntityCollection{}, err
	}
	return orgclient.EntityCollection{EntityName: q.EntityName}, nil
}

func (f *fakeClient) Create(ctx context.Context, e orgclient.Entity) (uuid.UUID, error) {
	if err := f.record(ctx, "create"); err != nil {
		return uuid.Nil, err
	}
	e.ID = uuid.New()
	f.mu.Lock()
	f.records[e.ID] = e
	f.mu.Unlock()
	return e.ID, nil
}

func (f *fakeClient) CreateAndReturn(ctx context.Context, e orgclient.Entity) (orgclient.Entity, error) {
	id, err := f.Create(ctx, e)
	e.ID = id
	return e, err
}

func (f *fakeClient) Update(ctx context.Context, e orgclient.Entity) error {
	return f.record(ctx, "update")
}

func (f *fakeClient) Delete(ctx context.Context, _ string, _ uuid.UUID) error {
	return f.record(ctx, "delete")
}

func (f *fakeClient) Associate(ctx context.Context, _ string, _ uuid.UUID, _ orgclient.Relationship, _ []orgclient.EntityReference) error {
	return f.record(ctx, "associate")
}

func (f *fakeClient) Disassociate(ctx context.Context, _ string, _ uuid.UUID, _ orgclient.Relationship, _ []orgclient.EntityReference) error {
	return f.record(ctx, "disassociate")
}

// dialerFor returns a Dialer handing out c and counting dials.
func dialerFor(c orgclient.Client, err error, dials *int) orgclient.Dialer {
	return func(_ context.Context, _ string, opts orgclient.DialOptions) (orgclient.Client, error) {
		if dials != nil {
			*dials++
		}
		if opts.EnableAffinityCookie {
			panic("affinity cookie must be disabled")
		}
		return c, err
	}
}
